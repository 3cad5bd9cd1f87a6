// chatctl holds a bearer token in a local credential store and uploads chat images
// with it, the way the mobile client does before embedding the returned path in a
// message.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"lovelink/internal/infrastructure/credential"
	"lovelink/internal/usecase"
	"lovelink/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), cfg, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: chatctl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  login --token T   store the bearer token")
	fmt.Fprintln(w, "  logout            forget the stored token")
	fmt.Fprintln(w, "  status            show whether a token is stored")
	fmt.Fprintln(w, "  upload FILE       upload a chat image and print its path")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
}

func run(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	var (
		dbPath   string
		endpoint string
		token    string
		timeout  time.Duration
	)

	flagSet := pflag.NewFlagSet("chatctl", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&dbPath, "db", cfg.CredentialsDBPath, "credential database path")
	flagSet.StringVar(&endpoint, "endpoint", cfg.UploadEndpoint, "chat image upload endpoint")
	flagSet.StringVarP(&token, "token", "t", "", "bearer token (login)")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "upload timeout")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printUsage(stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printUsage(stdout, flagSet)
		return nil
	}

	store, err := credential.NewBoltStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rest := flagSet.Args()[1:]
	switch command := flagSet.Arg(0); command {
	case "login":
		if token == "" {
			return fmt.Errorf("login requires --token")
		}
		if err := store.Save(ctx, token); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "token saved")
		return nil

	case "logout":
		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "token removed")
		return nil

	case "status":
		savedAt, err := store.SavedAt(ctx)
		if err != nil {
			return err
		}
		if savedAt.IsZero() {
			fmt.Fprintln(stdout, "not logged in")
			return nil
		}
		fmt.Fprintf(stdout, "logged in since %s\n", savedAt.Format(time.RFC3339))
		return nil

	case "upload":
		if len(rest) != 1 {
			return fmt.Errorf("upload takes exactly one FILE")
		}
		file, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer file.Close()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		path, err := usecase.NewImageUploader(endpoint, store, nil).UploadMessageImage(ctx, rest[0], file)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, path)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
