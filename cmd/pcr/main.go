// Command pcr drives a report form session from the terminal: restore the
// persisted draft, apply edits, show, clear or submit.
//
// Usage:
//
//	pcr -config pcr.yaml show
//	pcr -config pcr.yaml set patientName="Jane Roe" priority=high symptoms[]=nausea
//	pcr -config pcr.yaml point 120 310
//	pcr -config pcr.yaml clear
//	pcr -config pcr.yaml submit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/pcrform"
	"github.com/Jacob-Maurice/PCR/snapshot"
	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", "pcr.yaml", "configuration file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: pcr [-config file] show|set|point|clear|submit|logout")
		os.Exit(2)
	}

	cfg, err := pcrform.LoadConfigFile(*configPath)
	if err != nil {
		fatal(err)
	}
	sess, err := pcrform.New(cfg, logger)
	if err != nil {
		fatal(err)
	}
	defer sess.Close()

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		fatal(err)
	}

	switch cmd := flag.Arg(0); cmd {
	case "show":
		show(sess)
	case "set":
		if err := applySets(sess, flag.Args()[1:]); err != nil {
			fatal(err)
		}
		if err := sess.Flush(ctx); err != nil {
			fatal(err)
		}
	case "point":
		if flag.NArg() != 3 {
			fatal(fmt.Errorf("point requires x and y"))
		}
		x, errX := strconv.Atoi(flag.Arg(1))
		y, errY := strconv.Atoi(flag.Arg(2))
		if errX != nil || errY != nil {
			fatal(fmt.Errorf("point coordinates must be integers"))
		}
		if err := sess.AddPoint(x, y); err != nil {
			fatal(err)
		}
		if err := sess.Flush(ctx); err != nil {
			fatal(err)
		}
	case "clear":
		if err := sess.Clear(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("draft cleared")
	case "submit":
		if err := sess.Submit(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("report submitted")
	case "logout":
		sess.Logout()
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

// applySets parses key=value arguments and routes each to the control kind
// the schema declares. Checkbox groups toggle the named option on;
// key=-option toggles it off.
func applySets(sess *pcrform.Session, args []string) error {
	schema := sess.Form().Schema()
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		desc, found := schema.Lookup(key)
		if !found {
			return fmt.Errorf("unknown field %q", key)
		}
		var err error
		switch desc.Kind {
		case field.KindRadio:
			err = sess.SetRadio(key, value)
		case field.KindMulti:
			if off, okOff := strings.CutPrefix(value, "-"); okOff {
				err = sess.SetCheck(key, off, false)
			} else {
				err = sess.SetCheck(key, value, true)
			}
		default:
			err = sess.SetText(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func show(sess *pcrform.Session) {
	snap := snapshot.Serialize(sess.Form(), sess.Layer().Points(), "")
	data, err := snapshot.Marshal(snap)
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "pcr:", err)
	os.Exit(1)
}
