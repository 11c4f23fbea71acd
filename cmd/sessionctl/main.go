package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scandocs/scandocs-go/credentials/filestore"
	"github.com/scandocs/scandocs-go/events"
	"github.com/scandocs/scandocs-go/internal/config"
	"github.com/scandocs/scandocs-go/refresh"
	"github.com/scandocs/scandocs-go/session"
	"github.com/scandocs/scandocs-go/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running sessionctl")
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()
	c := config.New()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	displayAppname(c.GetAppName())

	manager, scheduler, err := buildSession(c)
	if err != nil {
		return err
	}
	defer manager.Close()

	manager.Initialize()
	printStatus(manager)

	if len(os.Args) > 1 && os.Args[1] == "watch" {
		log.Info().Msg("Watching session, Ctrl-C to stop")
		waitForStopSignal()
		scheduler.Stop()
		printStatus(manager)
	}
	return nil
}

func buildSession(c config.Config) (*session.Manager, *refresh.Scheduler, error) {
	key := sha256.Sum256([]byte(c.GetStorageSecret()))
	store, err := filestore.New(c.GetStorageDir(), key[:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening credential store")
	}

	inspector := token.NewInspector(token.WithExpirySoonThreshold(c.GetExpirySoonThreshold()))
	bus := events.NewBus()
	client := refresh.NewClient(c.GetAPIBaseURL())

	scheduler, err := refresh.NewScheduler(store, inspector, bus, client,
		refresh.WithPollInterval(c.GetPollInterval()),
		refresh.WithSafetyMargin(c.GetSafetyMargin()),
		refresh.WithFloorInterval(c.GetFloorInterval()),
		refresh.WithRequestTimeout(c.GetRequestTimeout()),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "building scheduler")
	}

	manager, err := session.NewManager(store, inspector, bus, scheduler, logNavigator{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "building session manager")
	}
	return manager, scheduler, nil
}

func printStatus(manager *session.Manager) {
	current := manager.Current()
	if current.Status == session.Authenticated {
		fmt.Printf("Session: authenticated as %s <%s>\n", current.Profile.Name, current.Profile.Email)
		return
	}
	fmt.Println("Session: anonymous")
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

// logNavigator stands in for the frontend router: it only records where the
// session transitions would navigate to.
type logNavigator struct{}

func (logNavigator) LoggedIn() {
	log.Info().Str("route", "/dashboard").Msg("Navigate after login")
}

func (logNavigator) LoggedOut() {
	log.Info().Str("route", "/").Msg("Navigate after logout")
}

func (logNavigator) SessionExpired() {
	log.Info().Str("route", "/login").Msg("Navigate after forced expiration")
}
