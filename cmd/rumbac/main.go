package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/akavel/rumbac"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var commands = map[string]func(*rumbac.Session, []string){
	"info":     processInfo,
	"read":     processRead,
	"erase":    processErase,
	"checksum": processChecksum,
	"boot":     processBoot,
}

// chipsFile is the YAML shape of a -chips file with extra chip definitions.
type chipsFile struct {
	Chips []rumbac.ChipDef
}

const appVersion = "0.1.0"

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", rumbac.DefaultBaud, "Baud rate.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	erase := flag.Bool("erase", false, "Erase the whole chip before flashing.")

	// Format an example chips file for the flag help text.
	example, _ := yaml.Marshal(chipsFile{Chips: []rumbac.ChipDef{{}}})
	chips := flag.String("chips", "", "Extra chip definitions yaml file. Example:\n\n"+string(example))

	cmdList := []string{"list"}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	command := flag.String("cmd", "", fmt.Sprintf("Command to run, one of: %+v\n"+
		"read usage: read outfile, e.g. read dump.bin\n"+
		"checksum usage: checksum addr length, e.g. checksum 0x0 4096\n"+
		"With no command, the given image file (.bin or .hex) is flashed.",
		cmdList))

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	rumbac.SetLogger(log.StandardLogger())

	if *chips != "" {
		f, err := os.ReadFile(*chips)
		if err != nil {
			log.Fatalf("failed to open chips file: %v", err)
		}
		defs := new(chipsFile)
		if err := yaml.Unmarshal(f, defs); err != nil {
			log.Fatalf("failed to parse chips file: %v", err)
		}
		for _, def := range defs.Chips {
			rumbac.RegisterChip(def)
		}
	}

	if *command == "list" {
		processList()
		return
	}

	if *port == "" {
		log.Fatal("must specify port")
	}

	transport, err := rumbac.OpenSerial(*port, *baud)
	if err != nil {
		log.Fatalf("failed to open port %v: %v", *port, err)
	}
	defer transport.Close()

	switch {
	case *command != "":
		// Run a single command over a fresh session
		f, ok := commands[*command]
		if !ok {
			log.Fatalf("invalid command %v", *command)
		}
		session, err := rumbac.Open(transport)
		if err != nil {
			log.Fatalf("handshake failed: %v", err)
		}
		f(session, flag.Args())

	default:
		// Flash an image file
		if len(flag.Args()) != 1 {
			log.Fatalf("must specify image file to flash")
		}

		var bar *progressbar.ProgressBar
		prog := rumbac.NewProgrammer(transport, rumbac.Options{
			Erase: *erase,
			Progress: func(ev rumbac.Event) {
				switch ev.Stage {
				case rumbac.StageHandshake:
					log.Infof("connected to %v", ev.Chip.Name)
				case rumbac.StageErase:
					log.Infof("erasing chip...")
				case rumbac.StageWrite:
					if bar == nil {
						bar = progressbar.Default(int64(ev.Chunks), "writing")
					}
					bar.Add(1)
				case rumbac.StageBoot:
					log.Infof("booting...")
				}
			},
		})

		image, err := loadImage(flag.Args()[0])
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("image loaded, %v bytes", len(image))

		if _, err := prog.Run(image); err != nil {
			log.Fatal(err)
		}
		log.Infof("complete")
	}
}
