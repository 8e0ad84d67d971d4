// Package main: lightning node service.
//
// The node drives an lnd channel engine, funds its channels from a bitcoind wallet and serves the operator REST API.
// Protocol events raised by the engine are handled by the coordinator. When a message broker is configured, events go
// through the broker first so a crash never loses an unacknowledged event, and every payment change is published back
// to it.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tarancss/lnnode/coordinator"
	"github.com/tarancss/lnnode/lib/chain"
	"github.com/tarancss/lnnode/lib/config"
	"github.com/tarancss/lnnode/lib/engine/lnd"
	"github.com/tarancss/lnnode/lib/events"
	"github.com/tarancss/lnnode/lib/keys"
	"github.com/tarancss/lnnode/lib/ledger"
	"github.com/tarancss/lnnode/lib/msg"
	"github.com/tarancss/lnnode/lib/msg/amqp"
	"github.com/tarancss/lnnode/lib/node"
	"github.com/tarancss/lnnode/lib/store/db"
	"github.com/tarancss/lnnode/server"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	if conf.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{Filename: conf.LogFile, MaxSize: 50, MaxBackups: 5, Compress: true})
	}

	log.Printf("Configuration:%+v", conf)

	params, err := chain.Params(conf.Network)
	if err != nil {
		panic(err)
	}

	st := &node.State{Params: params}

	// connect to database
	if st.DB, err = db.New(conf.DBType, conf.DBConn, conf.DataDir); err != nil {
		panic(err)
	}

	defer func() {
		errClose := db.Close(conf.DBType, st.DB)
		log.Printf("Closing database: %v", errClose)
	}()

	// load message broker
	switch conf.MbType {
	case "amqp", "rabbitmq":
		var mb *amqp.Amqp
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}

		st.Broker = mb

		defer func() {
			errClose := mb.Close()
			log.Printf("Closing messageBroker: %v", errClose)
		}()
	case "":
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// load the payment ledger
	opts := []ledger.Option{ledger.WithPersister(st.DB)}
	if st.Broker != nil {
		opts = append(opts, ledger.WithNotify(coordinator.PaymentNotifier(st.Broker)))
	}

	st.Ledger = ledger.New(opts...)

	payments, err := st.DB.GetPayments()
	if err != nil {
		panic(err)
	}

	if err = st.Ledger.Load(payments); err != nil {
		panic(err)
	}

	log.Printf("Loaded %d payments", len(payments))

	// load on-chain wallet and keys
	if st.Wallet, err = chain.Init(conf.Wallet, params); err != nil {
		panic(err)
	}
	defer st.Wallet.Close()

	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	if st.Sweeper, err = keys.New(seed, params); err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := coordinator.New(ctx, st, conf.Workers)

	// connect to the channel engine
	ln, err := lnd.New(conf.Engine, params, st.DB, sink(st.Broker, coord))
	if err != nil {
		panic(err)
	}

	st.Channels, st.Peers, st.Graph, st.Identity = ln, ln, ln, ln

	if err = st.Validate(); err != nil {
		panic(err)
	}

	go func() {
		if errRun := ln.Run(ctx); errRun != nil {
			log.Printf("Engine event streams stopped: %v", errRun)
		}
	}()

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// manage broker events
	if st.Broker != nil {
		go func() {
			if errEv := coord.ManageEvents(ctx, conf.Workers); errEv != nil {
				log.Printf("Error setting up broker readers for events:%v", errEv)
			}
		}()
	}

	s := server.New(st, conf.RateLimit)

	if err = s.ReconnectPeers(ctx); err != nil {
		log.Printf("Cannot reconnect to channel peers: %v", err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// stop taking requests, then let running handlers end
		s.Stop()
		cancel()
		coord.Wait()

		if errClose := ln.Close(); errClose != nil {
			log.Printf("Closing engine: %v", errClose)
		}

		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Printf("Node: %s\n", s.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}

// sink returns where engine events go: through the broker when there is one, straight to the coordinator otherwise.
func sink(mb msg.MsgBroker, coord *coordinator.Coordinator) func(events.Event) {
	if mb == nil {
		return coord.Submit
	}

	return func(ev events.Event) {
		if err := mb.SendEvent(ev); err != nil {
			log.Printf("Cannot publish %s event, handling it now: %v", ev.Kind(), err)
			coord.Submit(ev)
		}
	}
}
