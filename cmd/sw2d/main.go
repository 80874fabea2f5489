package main

import (
	"flag"

	"github.com/golang/glog"

	fx "github.com/spaceworks/sw2/pkg/framework"
	"github.com/spaceworks/sw2/pkg/publish/mqtt"
	"github.com/spaceworks/sw2/pkg/publish/websocket"
	"github.com/spaceworks/sw2/pkg/station"
)

func init() {
	station.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()
	conf := station.MustNewConfig()
	st := station.New(conf)
	runnables := []fx.Runnable{st}

	if conf.MQTTBrokerURL != "" {
		pub, err := mqtt.NewPublisher(conf.MQTTBrokerURL, conf.ID, st)
		if err != nil {
			glog.Exitf("mqtt: %v", err)
		}
		st.AddSinks(pub)
		runnables = append(runnables, pub)
	}
	if conf.FeedAddr != "" {
		feed := websocket.NewFeed(conf.FeedAddr, conf.ID, st)
		st.AddSinks(feed)
		runnables = append(runnables, feed)
	}

	glog.Infof("station %s on %s", conf.ID, conf.Channel.Name())
	if err := fx.NewRunner().HandleSignals().Go(runnables...).Wait(); err != nil {
		glog.Exit(err)
	}
}
