package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	fx "github.com/spaceworks/sw2/pkg/framework"
	"github.com/spaceworks/sw2/pkg/msgs"
	"github.com/spaceworks/sw2/pkg/publish/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/sw2/"
	station = "+"
	command string
)

func init() {
	if val := os.Getenv("SW2_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&station, "station", station, "Station ID to monitor, + for all.")
	flag.StringVar(&command, "cmd", command, "Send a command (request, reset) to the station once connected.")
}

func printEvent(topic string, payload []byte) {
	rec, err := msgs.DecodeEventRecord(payload)
	if err != nil {
		log.Printf("%s: bad message: %v", topic, err)
		return
	}
	at := time.Unix(0, rec.UnixNano).Format("15:04:05.000")
	line := rec.Line
	if len(rec.Payload) > 0 {
		line = string(rec.Payload)
	}
	if rec.Error != "" {
		line = strings.TrimSpace(line + " " + rec.Error)
	}
	log.Printf("%s: [%s %s/%s] %s", topic, at, rec.Kind, rec.State, line)
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)
	if command != "" && strings.ContainsAny(station, "+#") {
		log.Fatalln("-cmd requires a single -station")
	}

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	var sendOnce sync.Once
	q.OnConnect = func(q *mqtt.Queue) {
		log.Printf("connected %s", mqttURL)
		if command != "" {
			sendOnce.Do(func() {
				q.Pub(station+"/"+mqtt.CommandTopic, []byte(command))
			})
		}
	}
	q.OnDisconnect = func(*mqtt.Queue) {
		log.Printf("disconnected, reconnecting")
	}
	q.Sub(station+"/"+mqtt.StateTopic, func(topic string, payload []byte) {
		log.Printf("%s: %s", topic, string(payload))
	})
	q.Sub(station+"/"+mqtt.EventTopic, printEvent)

	monitor := fx.NamedRun("monitor", fx.RunFunc(func(ctx context.Context) error {
		token := q.Connect()
		if token.Wait(); token.Error() != nil {
			return token.Error()
		}
		<-ctx.Done()
		q.Close()
		return ctx.Err()
	}))
	if err := fx.NewRunner().HandleSignals().Go(monitor).Wait(); err != nil {
		log.Fatalln(err)
	}
}
