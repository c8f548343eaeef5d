package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"aird/internal/config"
	"aird/internal/httpserver"
	"aird/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		if err := passwdCmd(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "passwd:", err)
			os.Exit(1)
		}
		return
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "aird:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}

	if err := logging.Init(os.Getenv("AIRD_LOG_LEVEL"), os.Getenv("AIRD_LOG_FORMAT")); err != nil {
		return err
	}
	defer func() { _ = logging.Sync() }()

	srv, err := httpserver.New(httpserver.Options{Config: cfg})
	if err != nil {
		return err
	}

	ln, port, err := listenWithRetry(cfg.Port)
	if err != nil {
		return err
	}

	if cfg.TokenGenerated {
		// One-time disclosure on stdout; the token is never logged.
		fmt.Printf("access token: %s\n", cfg.Token)
	}
	fmt.Printf("serving %s on http://localhost:%d\n", cfg.Root, port)
	logging.Info("listening",
		zap.String("root", cfg.Root),
		zap.Int("port", port))

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// listenWithRetry binds the requested port, walking upward when it is
// already taken so a second instance still comes up somewhere.
func listenWithRetry(port int) (net.Listener, int, error) {
	for p := port; p <= 65535; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p))
		if err == nil {
			return ln, p, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, err
		}
		logging.Warn("port in use, trying next", zap.Int("port", p))
	}
	return nil, 0, errors.New("no free port")
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// passwdCmd prints the bcrypt hash of a token, suitable for the
// tokenBcrypt config field.
func passwdCmd(args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	token := fs.String("t", "", "token to hash")
	_ = fs.Parse(args)
	if *token == "" {
		return errors.New("usage: aird passwd -t <token>")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(*token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
