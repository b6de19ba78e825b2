package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/deemkeen/tusker/app"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
)

func main() {
	// Parse command line flags
	versionFlag := flag.Bool("v", false, "Print version information")
	addUser := flag.String("adduser", "", "Create a local user with the given username and exit")
	addCommunity := flag.String("addcommunity", "", "Create a local community with the given name and exit")
	flag.Parse()

	// Handle version flag
	if *versionFlag {
		fmt.Printf("%s v%s\n", util.Name, util.GetVersion())
		os.Exit(0)
	}

	// Load configuration
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	// Setup logging (journald if enabled, otherwise standard logging)
	util.SetupLogging(conf.Conf.WithJournald)

	switch {
	case *addUser != "":
		createLocalActor(conf, *addUser, domain.ActorPerson)
		return
	case *addCommunity != "":
		createLocalActor(conf, *addCommunity, domain.ActorGroup)
		return
	}

	log.Printf("%s v%s", util.Name, util.GetVersion())
	log.Println("Configuration: ")
	log.Println(util.PrettyPrint(conf))

	// Start pprof server for profiling (if enabled)
	if conf.Conf.WithPprof {
		go func() {
			log.Println("pprof server listening on localhost:6060")
			log.Println("Access profiling at http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	// Create and initialize the application
	application, err := app.New(conf)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Initialize(); err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Start the application (blocks until shutdown signal)
	if err := application.Start(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// createLocalActor provisions a user or community with a fresh key pair
func createLocalActor(conf *util.AppConfig, name string, kind domain.ActorKind) {
	if ok, msg := util.IsValidWebFingerUsername(name); !ok {
		log.Fatalf("Invalid name %q: %s", name, msg)
	}

	database, err := app.OpenDatabase(conf)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	err, actor := database.CreateLocalActor(name, kind, conf.Conf.SslDomain, util.GeneratePemKeypair())
	if err != nil {
		log.Fatalf("Failed to create %s: %v", name, err)
	}
	log.Printf("Created %s %s at %s", kind, actor.Handle, actor.URI)
}
