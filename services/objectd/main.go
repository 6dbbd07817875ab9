// Command objectd runs the pelorus live object backend: a websocket
// endpoint through which clients list, search, get, put, delete, change
// and subscribe to schema-validated objects stored in postgres.
package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/seastead-tech/pelorus/core/access"
	"github.com/seastead-tech/pelorus/core/csql"
	"github.com/seastead-tech/pelorus/core/events"
	"github.com/seastead-tech/pelorus/core/logger"
	"github.com/seastead-tech/pelorus/core/manager"
	"github.com/seastead-tech/pelorus/core/schema"
	"github.com/seastead-tech/pelorus/core/store"
	"github.com/seastead-tech/pelorus/core/ws"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres       string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	PostgresSchema string `env:"POSTGRES_SCHEMA,default=pelorus" description:"the database schema to use"`
	RegistryConfig string `env:"REGISTRY_CONFIG,required" description:"path to the registry configuration JSON"`
	JwtSecret      string `env:"JWT_SECRET,required" description:"HMAC secret for bearer tokens"`
	KafkaBrokers   string `env:"KAFKA_BROKERS" description:"comma separated Kafka brokers for lifecycle events"`
	Port           string `env:"PORT,default=3000" description:"the port to listen on"`
	LogLevel       string `env:"LOG_LEVEL,default=info" description:"logrus log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.InitLogger(logLevel)
	rlog := logger.Default()

	configJSON, err := os.ReadFile(service.RegistryConfig)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot read registry configuration")
	}
	registry := schema.MustNew(string(configJSON))

	db := csql.OpenWithSchema(service.Postgres, service.PostgresSchema)
	defer db.Close()

	documents := store.NewPostgres(db, registry)
	objectStore := store.New(documents, registry)

	bus := events.NewBus()
	var notifier events.Notifier = bus
	if service.KafkaBrokers != "" {
		kafkaNotifier := events.NewKafkaNotifier(
			strings.Split(service.KafkaBrokers, ","), events.DefaultTopic)
		defer kafkaNotifier.Close()
		notifier = events.Multi{bus, kafkaNotifier}
	}

	hub := ws.NewHub(registry)
	objectManager := manager.New(&manager.Builder{
		Registry:  registry,
		Store:     objectStore,
		Transport: hub,
		Notifier:  notifier,
	})
	hub.AttachManager(objectManager)

	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Secret: []byte(service.JwtSecret),
	}))
	access.HandleSubjectRoute(router)
	hub.HandleRoute(router)

	handler := handlers.RecoveryHandler()(handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(router))

	rlog.Infoln("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, handler); err != nil {
		rlog.WithError(err).Fatalln("server stopped")
	}
}
