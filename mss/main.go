package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"

	"github.com/bwesterb/go-mss"
	"github.com/bwesterb/go-mss/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var (
	cfg    *Config
	logger *zap.Logger
)

// Returns the value of the flag if it is set and the fallback otherwise.
func flagOr(c *cli.Context, name, fallback string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	return fallback
}

// Returns the message given as argument or read from --in.
func readMessage(c *cli.Context) ([]byte, error) {
	if c.IsSet("in") {
		return ioutil.ReadFile(c.String("in"))
	}
	if c.NArg() != 1 {
		return nil, cli.NewExitError("expected a message or --in", 1)
	}
	return []byte(c.Args().First()), nil
}

func cmdAlgs(c *cli.Context) error {
	for _, name := range mss.ListNames() {
		ctx := mss.NewContextFromName(name)
		fmt.Printf("%-14s %8d signatures %6d byte signature\n",
			ctx.Name(), ctx.LeafCount(), ctx.SignatureSize())
	}

	return nil
}

func cmdKeygen(c *cli.Context) error {
	alg := flagOr(c, "alg", cfg.Alg)
	path := flagOr(c, "key", cfg.Key)
	ctx := mss.NewContextFromName(alg)
	if ctx == nil {
		return cli.NewExitError(fmt.Sprintf("unknown algorithm %s", alg), 1)
	}
	ctx.Threads = cfg.Threads

	sk, pk, err := ctx.GenerateKeyPairAt(path, nil)
	if err != nil {
		return err
	}
	defer sk.Close()

	logger.Info("Generated key pair",
		zap.String("alg", alg), zap.String("path", path))
	fmt.Printf("%x\n", pk.Root())
	return nil
}

// Signs the message and returns the envelope.
func signMessage(c *cli.Context) (*mss.Envelope, error) {
	msg, err := readMessage(c)
	if err != nil {
		return nil, err
	}
	path := flagOr(c, "key", cfg.Key)
	sk, pk, err2 := mss.LoadPrivateKey(path)
	if err2 != nil {
		return nil, err2
	}
	defer sk.Close()
	sk.Context().Threads = cfg.Threads

	sig, err2 := sk.Sign(msg)
	if err2 != nil {
		return nil, err2
	}
	logger.Info("Signed message",
		zap.Uint32("leaf", sig.Leaf()),
		zap.Int("remaining", sk.Remaining()))
	return mss.NewEnvelope(pk, msg, sig), nil
}

func cmdSign(c *cli.Context) error {
	// The output must be writable before a one-time key is used up.
	if !c.IsSet("out") {
		return errors.New("missing --out")
	}
	out, err := os.OpenFile(c.String("out"),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	env, err := signMessage(c)
	if err != nil {
		out.Close()
		os.Remove(c.String("out"))
		return err
	}
	buf, err := env.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err = out.Write(buf); err != nil {
		return err
	}
	return out.Close()
}

func cmdVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("expected an envelope file", 1)
	}
	buf, err := ioutil.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	var env mss.Envelope
	if err = env.UnmarshalBinary(buf); err != nil {
		return err
	}
	if c.IsSet("root") {
		root, err := hex.DecodeString(c.String("root"))
		if err != nil {
			return cli.NewExitError("--root is not hex", 1)
		}
		if !bytes.Equal(root, env.Root) {
			return cli.NewExitError("envelope signed by another key", 2)
		}
	}
	ok, err2 := env.Verify()
	if !ok {
		return cli.NewExitError(fmt.Sprintf("rejected: %v", err2), 2)
	}
	fmt.Printf("accepted (leaf %d)\n", env.Signature.Leaf())
	return nil
}

func cmdSend(c *cli.Context) error {
	env, err := signMessage(c)
	if err != nil {
		return err
	}
	peer := flagOr(c, "peer", cfg.Peer)
	status, err := transport.Send(context.Background(), peer, env)
	if err != nil {
		return err
	}
	logger.Info("Sent envelope",
		zap.String("peer", peer), zap.Stringer("status", status))
	fmt.Println(status)
	if status != transport.StatusAccepted {
		return cli.NewExitError("", 2)
	}
	return nil
}

func cmdServe(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	metrics := transport.NewMetrics()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	if addr := flagOr(c, "metrics", cfg.Metrics); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	var trusted func(*mss.PublicKey) bool
	if c.IsSet("root") {
		root, err := hex.DecodeString(c.String("root"))
		if err != nil {
			return cli.NewExitError("--root is not hex", 1)
		}
		trusted = func(pk *mss.PublicKey) bool {
			return bytes.Equal(root, pk.Root())
		}
	}

	server := transport.NewServer(transport.ServerConfig{
		Addr:    flagOr(c, "listen", cfg.Listen),
		Logger:  logger,
		Metrics: metrics,
		Trusted: trusted,
		Handler: func(env *mss.Envelope, status transport.Status, err error) {
			if status == transport.StatusAccepted {
				fmt.Printf("%s\n", env.Message)
			}
		},
	})
	return server.Serve(ctx)
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "mss"
	app.Usage = "Merkle signature scheme tool"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
	}

	app.Before = func(c *cli.Context) error {
		var err error
		cfg, err = loadConfig(c.GlobalString("config"))
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Log)
		if err != nil {
			return err
		}
		mss.SetLogger(zapLogf{logger.Sugar()})
		return nil
	}

	app.After = func(c *cli.Context) error {
		if logger != nil {
			logger.Sync()
		}
		return nil
	}

	keyFlag := cli.StringFlag{
		Name:  "key, k",
		Usage: "path to the private key",
	}
	inFlag := cli.StringFlag{
		Name:  "in, i",
		Usage: "read the message from this file",
	}
	rootFlag := cli.StringFlag{
		Name:  "root, r",
		Usage: "hex encoded root of the trusted signer",
	}

	app.Commands = []cli.Command{
		{
			Name:   "algs",
			Usage:  "List MSS instances",
			Action: cmdAlgs,
		},
		{
			Name:   "keygen",
			Usage:  "Generate a key pair and print its root",
			Action: cmdKeygen,
			Flags: []cli.Flag{
				keyFlag,
				cli.StringFlag{
					Name:  "alg, a",
					Usage: "MSS instance, see algs",
				},
			},
		},
		{
			Name:      "sign",
			Usage:     "Sign a message into an envelope",
			ArgsUsage: "[message]",
			Action:    cmdSign,
			Flags: []cli.Flag{
				keyFlag,
				inFlag,
				cli.StringFlag{
					Name:  "out, o",
					Usage: "write the envelope to this file",
				},
			},
		},
		{
			Name:      "verify",
			Usage:     "Verify an envelope",
			ArgsUsage: "<envelope>",
			Action:    cmdVerify,
			Flags:     []cli.Flag{rootFlag},
		},
		{
			Name:      "send",
			Usage:     "Sign a message and send it to a server",
			ArgsUsage: "[message]",
			Action:    cmdSend,
			Flags: []cli.Flag{
				keyFlag,
				inFlag,
				cli.StringFlag{
					Name:  "peer, p",
					Usage: "address of the server",
				},
			},
		},
		{
			Name:   "serve",
			Usage:  "Receive and verify envelopes",
			Action: cmdServe,
			Flags: []cli.Flag{
				rootFlag,
				cli.StringFlag{
					Name:  "listen, l",
					Usage: "address to listen on",
				},
				cli.StringFlag{
					Name:  "metrics, m",
					Usage: "address to expose Prometheus metrics on",
				},
			},
		},
	}

	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
