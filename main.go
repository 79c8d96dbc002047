package main

import (
	"context"
	"errors"
	"evsim/broker"
	"evsim/emulator"
	"evsim/internal"
	"evsim/internal/config"
	"evsim/meter"
	"evsim/metrics"
	"evsim/server"
	"evsim/telegram"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf, err := config.GetConfig(*configPath)
	if err != nil {
		log.Fatalln("configuration load failed", err)
	}

	logger := internal.NewLogger(time.Local)
	logger.SetDebugMode(conf.IsDebug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store meter.Store = meter.NewMemoryStore()
	var database *internal.MongoDB
	sinks := []emulator.FrameSink{emulator.MetricsSink{}}
	if conf.Mongo.Enabled {
		database, err = internal.NewMongoClient(conf)
		if err != nil {
			log.Fatalln("mongodb setup failed", err)
		}
		store = database
		logger.SetDatabase(database)
		sinks = append(sinks, emulator.NewFrameArchive(database, internal.CollectionFrames, logger))
		logger.Debug("mongodb enabled")
	}

	var feed *broker.NatsFeed
	if conf.Nats.Enabled {
		feed, err = broker.NewNatsFeed(conf.Nats.Url, conf.Nats.Prefix, time.Duration(conf.Simulation.CallTimeoutSeconds)*time.Second, logger)
		if err != nil {
			logger.Error("nats feed disabled", err)
		} else {
			sinks = append(sinks, feed)
		}
	}

	events := internal.EventHandlers{}
	var publisher *broker.MqttPublisher
	if conf.Mqtt.Enabled {
		publisher = broker.NewMqttPublisher(conf, logger)
		if err = publisher.Connect(10 * time.Second); err != nil {
			logger.Error("mqtt publisher disabled", err)
			publisher = nil
		} else {
			events = append(events, publisher)
		}
	}
	var bot *telegram.TgBot
	if conf.Telegram.Enabled {
		bot, err = telegram.NewBot(conf.Telegram.ApiKey, logger)
		if err != nil {
			logger.Error("telegram bot disabled", err)
		} else {
			if conf.Telegram.ChatId != 0 {
				bot.Subscribe(conf.Telegram.ChatId, "config")
			}
			events = append(events, bot)
		}
	}

	manager := emulator.NewManager(conf.ChargePoints, emulator.Options{
		Simulation: conf.Simulation,
		Store:      store,
		Logger:     logger,
		Events:     events,
	}, sinks...)

	if bot != nil {
		bot.SetStatusSource(manager)
		bot.Start()
	}
	if feed != nil {
		if err = feed.Serve(manager); err != nil {
			logger.Error("nats command ingress", err)
		}
	}

	go func() {
		if err := metrics.Listen(conf); err != nil {
			logger.Error("metrics server", err)
		}
	}()

	api := server.NewServer(conf, manager, logger)
	if database != nil {
		api.SetLogReader(database)
	}
	go func() {
		if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control api", err)
			stop()
		}
	}()

	for _, id := range manager.Configured() {
		cp, _ := manager.Config(id)
		if !cp.AutoConnect {
			continue
		}
		go func(id string) {
			if _, err := manager.Connect(ctx, id); err != nil {
				logger.Warn(fmt.Sprintf("[%s] auto connect: %s", id, err))
			}
		}(id)
	}

	<-ctx.Done()
	logger.Debug("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = api.Shutdown(shutdownCtx); err != nil {
		logger.Error("control api shutdown", err)
	}
	manager.CloseAll()
	if feed != nil {
		feed.Close()
	}
	if publisher != nil {
		publisher.Close()
	}
}
