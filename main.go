package main

import (
	"log"
	"os"
	"sync"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"capsuled/gemini"
)

// CapsuleConfig describes one capsule: where it listens, its key pair
// and the content tree it serves.
type CapsuleConfig struct {
	Address        string
	Port           string
	CertFile       string
	KeyFile        string
	RootDir        string
	DirectoryIndex bool
	ReadTimeout    time.Duration
}

func main() {
	configPath := flag.String("config", "", "extra directory to search for config.yaml")
	fetch := flag.String("fetch", "", "fetch a gemini URL, print the body and exit")
	flag.Parse()

	if *fetch != "" {
		runFetch(*fetch)
		return
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/capsuled/")
	viper.AddConfigPath(".")
	if *configPath != "" {
		viper.AddConfigPath(*configPath)
	}
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Fatal error config file: %v", err)
	}

	// Load configs
	active := viper.GetStringSlice("active_capsules")
	capsules := make([]CapsuleConfig, len(active))
	for i, name := range active {
		if err := viper.UnmarshalKey(name, &capsules[i]); err != nil {
			log.Fatalf("Bad capsule config %v: %v", name, err)
		}
		log.Printf("Loading capsule %v %v", i, capsules[i].Address)
	}
	if len(capsules) < 1 {
		log.Println("No capsules loaded. Shutting down.")
		return
	}
	log.Printf("%v capsules loaded", len(capsules))

	// Initialize servers
	wg := new(sync.WaitGroup)
	wg.Add(len(capsules))
	for i, c := range capsules {
		log.Printf("Starting capsule %v %v:%v", i, c.Address, c.Port)
		go func(c CapsuleConfig) {
			defer wg.Done()
			store := gemini.NewFileStore(c.RootDir)
			srv := gemini.NewServer(gemini.ServerConfig{
				Address:        c.Address,
				Port:           c.Port,
				CertFile:       c.CertFile,
				KeyFile:        c.KeyFile,
				DirectoryIndex: c.DirectoryIndex,
				ReadTimeout:    c.ReadTimeout,
			}, store, log.Default())
			log.Fatal(srv.Start())
		}(c)
	}
	wg.Wait()
}

func runFetch(target string) {
	client := gemini.NewClient(gemini.ClientConfig{Timeout: 30 * time.Second})
	resp, err := client.Request(target)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	if !gemini.IsSuccess(resp.Status) {
		log.Fatalf("%v %v", resp.Status, resp.Meta)
	}
	os.Stdout.Write(resp.Body)
}
