package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"beacon-server/internal/auth"
	"beacon-server/internal/broker"
	"beacon-server/internal/config"
	"beacon-server/internal/db"
	"beacon-server/internal/graph"
	"beacon-server/internal/handlers"
	"beacon-server/internal/message"
	"beacon-server/internal/metrics"
	"beacon-server/internal/middleware"
	"beacon-server/internal/notify"
	"beacon-server/internal/registry"
	"beacon-server/internal/service"
	"beacon-server/internal/user"
	"beacon-server/internal/ws"
)

func main() {
	config.LoadConfig("config.yaml")

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	gdb, err := db.Open(config.Conf.DBPath)
	if err != nil {
		logger.Fatal("opening database", zap.Error(err))
	}

	graphStore, err := graph.NewGormStore(gdb)
	if err != nil {
		logger.Fatal("migrating graph store", zap.Error(err))
	}
	g, err := graph.NewGraph(graphStore)
	if err != nil {
		logger.Fatal("loading permission graph", zap.Error(err))
	}

	users, err := user.NewStore(gdb)
	if err != nil {
		logger.Fatal("migrating user store", zap.Error(err))
	}

	msgs, err := message.NewStore(gdb)
	if err != nil {
		logger.Fatal("migrating message store", zap.Error(err))
	}

	reg := registry.New[*ws.Client](logger)

	brokerClient := broker.NewClient(config.Conf.BrokerURL, time.Duration(config.Conf.RPCTimeout), logger)
	svc := service.New(msgs, users, g, brokerClient, brokerClient, logger)

	dispatcher := notify.NewDispatcher(reg, logger)
	brokerClient.Subscribe(dispatcher.Handle)
	brokerClient.Serve(broker.QueueGetMessages, svc.HandleGetMessages)
	brokerClient.Serve(broker.QueueGetChatMessages, svc.HandleGetChatMessages)

	if err := brokerClient.Connect(); err != nil {
		logger.Fatal("connecting to broker", zap.Error(err))
	}

	verifier := auth.NewVerifier(config.Conf.JWTSecret)
	gateway := ws.NewGateway(reg, verifier, svc, logger)
	api := handlers.New(svc, logger)

	metricsService, err := metrics.NewService(gdb, reg.Count, logger)
	if err != nil {
		logger.Fatal("migrating metrics store", zap.Error(err))
	}
	metricsService.Start()

	requireAuth := middleware.RequireAuth(verifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWebSocket)
	mux.HandleFunc("/messages/send", requireAuth(api.SendMessageHandler))
	mux.HandleFunc("/messages/edit", requireAuth(api.EditMessageHandler))
	mux.HandleFunc("/messages/delete", requireAuth(api.DeleteMessageHandler))
	mux.HandleFunc("/channels/messages", requireAuth(api.GetChannelMessagesHandler))

	server := &http.Server{
		Addr:    config.Conf.Port,
		Handler: middleware.CORS(mux),
	}

	go func() {
		logger.Info("listening", zap.String("addr", config.Conf.Port), zap.String("name", config.Conf.Name))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	brokerClient.Close()
	reg.CloseAll()
	metricsService.Stop()
}
