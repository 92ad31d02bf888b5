package main

import (
	verification "github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/ca"
	"github.com/jessiemongeon1/response-verification/cbor"
	"github.com/jessiemongeon1/response-verification/certificate"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
	"github.com/jessiemongeon1/response-verification/http"
	"github.com/jessiemongeon1/response-verification/verifier"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime/pprof"
	"strings"
	"text/tabwriter"
	"time"
)

var (
	errArgs     = errors.New("Wrong number of arguments")
	errFailed   = errors.New("Some fixtures failed")
	fCpuProfile *os.File
	logger      = zap.NewNop()
)

func parseRange(s string) (ca.Range, error) {
	low, high, ok := strings.Cut(s, ":")
	if !ok {
		return ca.Range{}, fmt.Errorf("range %q: expected <low>:<high>", s)
	}
	var (
		ret ca.Range
		err error
	)
	if ret.Low, err = hex.DecodeString(low); err != nil {
		return ca.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	if ret.High, err = hex.DecodeString(high); err != nil {
		return ca.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	return ret, nil
}

func parseServiceID(cc *cli.Context) ([]byte, error) {
	id, err := hex.DecodeString(cc.String("service-id"))
	if err != nil {
		return nil, fmt.Errorf("parsing service-id: %w", err)
	}
	return id, nil
}

func handleNetworkNew(cc *cli.Context) error {
	if cc.Args().Len() != 0 {
		cli.ShowSubcommandHelp(cc)
		return errArgs
	}
	var opts ca.NewOpts
	if cc.IsSet("subnet-id") {
		var err error
		opts.SubnetID, err = hex.DecodeString(cc.String("subnet-id"))
		if err != nil {
			return fmt.Errorf("parsing subnet-id: %w", err)
		}
	}
	for _, s := range cc.StringSlice("range") {
		r, err := parseRange(s)
		if err != nil {
			return err
		}
		opts.Ranges = append(opts.Ranges, r)
	}

	h, err := ca.New(cc.String("ca-path"), opts)
	if err != nil {
		return err
	}
	logger.Info("created network",
		zap.String("path", cc.String("ca-path")),
		zap.Bool("delegated", opts.SubnetID != nil))
	return h.Close()
}

func handleNetworkShow(cc *cli.Context) error {
	h, err := ca.Open(cc.String("ca-path"))
	if err != nil {
		return err
	}
	defer h.Close()

	p := h.Params()
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "root_key\t%s\n", p.RootKey)
	if p.SubnetKey != "" {
		fmt.Fprintf(w, "subnet_id\t%s\n", p.SubnetID)
		fmt.Fprintf(w, "subnet_key\t%s\n", p.SubnetKey)
		for i, r := range p.Ranges {
			fmt.Fprintf(w, "canister_ranges[%d]\t%s\t%s\n", i, r.Low, r.High)
		}
	}
	w.Flush()
	return nil
}

func handleServe(cc *cli.Context) error {
	if cc.Args().Len() != 1 {
		cli.ShowSubcommandHelp(cc)
		return errArgs
	}
	serviceID, err := parseServiceID(cc)
	if err != nil {
		return err
	}
	s, err := NewServer(
		cc.String("ca-path"),
		cc.Args().Get(0),
		cc.String("listen"),
		http.ServerOpts{
			ServiceID:        serviceID,
			Version:          cc.Uint64("version"),
			CertifiedHeaders: cc.StringSlice("certified-header"),
			Logger:           logger,
		},
	)
	if err != nil {
		return err
	}
	logger.Info("serving", zap.String("addr", cc.String("listen")))
	return s.Serve()
}

// Get the data at hand to inspect for an inspect subcommand, by either
// reading it from stdin or a file
func inspectGetBuf(cc *cli.Context) ([]byte, error) {
	r, err := inspectGetReader(cc)
	if err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	err = r.Close()
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Same as inspectGetBuf(), but returns a io.ReadCloser instead.
func inspectGetReader(cc *cli.Context) (io.ReadCloser, error) {
	if cc.Args().Len() == 0 {
		return os.Stdin, nil
	}
	r, err := os.Open(cc.Args().Get(0))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func handleInspectCbor(cc *cli.Context) error {
	buf, err := inspectGetBuf(cc)
	if err != nil {
		return err
	}
	v, err := cbor.NewDecoder(cbor.DecoderOpts{
		MaxDepth: cc.Int("max-depth"),
	}).Decode(buf)
	if err != nil {
		return err
	}
	fmt.Println(cbor.Diagnostic(v))
	return nil
}

func handleInspectTree(cc *cli.Context) error {
	buf, err := inspectGetBuf(cc)
	if err != nil {
		return err
	}
	t, err := hashtree.Decode(buf)
	if err != nil {
		return err
	}
	fmt.Printf("digest %s\n\n", hashtree.Digest(t))
	fmt.Print(hashtree.Format(t))
	return nil
}

func writeCertificate(w io.Writer, prefix string, c *certificate.Certificate) {
	if t, err := certificate.Time(c); err != nil {
		fmt.Fprintf(w, "%stime\t%v\n", prefix, err)
	} else {
		fmt.Fprintf(w, "%stime\t%d\t%s\n", prefix, t,
			time.Unix(0, int64(t)).UTC())
	}
	fmt.Fprintf(w, "%sdigest\t%s\n", prefix, hashtree.Digest(c.Tree))
	fmt.Fprintf(w, "%ssignature\t%x\n", prefix, c.Signature)
	if c.Delegation != nil {
		fmt.Fprintf(w, "%sdelegation.subnet_id\t%x\n", prefix, c.Delegation.SubnetID)
		writeCertificate(w, prefix+"delegation.", c.Delegation.Certificate)
	}
}

func handleInspectCert(cc *cli.Context) error {
	buf, err := inspectGetBuf(cc)
	if err != nil {
		return err
	}
	c, err := certificate.Decode(buf)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 1, 1, ' ', 0)
	writeCertificate(w, "", c)

	var serviceID []byte
	if cc.IsSet("service-id") {
		if serviceID, err = parseServiceID(cc); err != nil {
			return err
		}
		res := certificate.CertifiedData(c, serviceID)
		fmt.Fprintf(w, "certified_data\t%s\t%x\n", res.Status, res.Value)
	}

	if cc.IsSet("root-key") {
		der, err := hex.DecodeString(cc.String("root-key"))
		if err != nil {
			return fmt.Errorf("parsing root-key: %w", err)
		}
		rootKey, err := certificate.UnmarshalVerifier(der)
		if err != nil {
			return err
		}
		if err := certificate.Verify(c, rootKey, serviceID); err != nil {
			fmt.Fprintf(w, "signature\t❌ %v\n", err)
		} else {
			fmt.Fprintf(w, "signature\t✅\n")
		}
	}
	w.Flush()

	if cc.Bool("tree") {
		fmt.Printf("\n%s", hashtree.Format(c.Tree))
	}
	return nil
}

func handleInspectHeader(cc *cli.Context) error {
	buf, err := inspectGetBuf(cc)
	if err != nil {
		return err
	}
	value := strings.TrimSpace(string(buf))
	if name, rest, ok := strings.Cut(value, ":"); ok &&
		strings.EqualFold(strings.TrimSpace(name), certification.CertificateHeader) {
		value = strings.TrimSpace(rest)
	}

	hdr, err := verifier.DefaultHeaderSplitter{}.Split(value)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 1, 1, ' ', 0)
	if hdr.Version != nil {
		fmt.Fprintf(w, "version\t%d\n", *hdr.Version)
	} else {
		fmt.Fprintf(w, "version\t-\n")
	}
	fmt.Fprintf(w, "certificate\t%d bytes\n", len(hdr.Certificate))
	if hdr.Tree != nil {
		if t, err := hashtree.Decode(hdr.Tree); err != nil {
			fmt.Fprintf(w, "tree\t%v\n", err)
		} else {
			fmt.Fprintf(w, "tree\t%s\n", hashtree.Digest(t))
		}
	} else {
		fmt.Fprintf(w, "tree\t-\n")
	}
	if hdr.ExprPath != nil {
		v, err := cbor.Decode(hdr.ExprPath)
		if err == nil {
			var path []string
			if path, err = cbor.StringArray(v, "expr_path"); err == nil {
				fmt.Fprintf(w, "expr_path\t%s\n", strings.Join(path, "/"))
			}
		}
		if err != nil {
			fmt.Fprintf(w, "expr_path\t%v\n", err)
		}
	}
	if hdr.Certificate != nil {
		if c, err := certificate.Decode(hdr.Certificate); err != nil {
			fmt.Fprintf(w, "certificate\t%v\n", err)
		} else {
			writeCertificate(w, "certificate.", c)
		}
	}
	w.Flush()
	return nil
}

func handleInspectExpr(cc *cli.Context) error {
	buf, err := inspectGetBuf(cc)
	if err != nil {
		return err
	}
	expr, err := certification.ParseExpression(strings.TrimSpace(string(buf)))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "kind\t%s\n", expr.Kind)
	fmt.Fprintf(w, "hash\t%s\n", expr.Hash())
	fmt.Fprintf(w, "canonical\t%s\n", expr.Canonical())
	if expr.Kind == certification.KindFull {
		fmt.Fprintf(w, "request_headers\t%s\n", expr.Request.Headers)
		fmt.Fprintf(w, "query_parameters\t%s\n", expr.Request.QueryParameters)
	}
	if expr.Kind != certification.KindSkip {
		name := "response_headers"
		if expr.Response.Exclude {
			name = "excluded_response_headers"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, expr.Response.Headers)
	}
	w.Flush()
	return nil
}

func parseHeaders(values []string) ([]verification.HeaderField, error) {
	var ret []verification.HeaderField
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("header %q: expected <name>: <value>", v)
		}
		ret = append(ret, verification.HeaderField{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return ret, nil
}

func handleFixturesIssue(cc *cli.Context) error {
	serviceID, err := parseServiceID(cc)
	if err != nil {
		return err
	}
	reqHeaders, err := parseHeaders(cc.StringSlice("request-header"))
	if err != nil {
		return err
	}
	respHeaders, err := parseHeaders(cc.StringSlice("header"))
	if err != nil {
		return err
	}
	var body []byte
	if path := cc.String("body"); path != "" {
		if body, err = os.ReadFile(path); err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
	}

	h, err := ca.Open(cc.String("ca-path"))
	if err != nil {
		return err
	}
	defer h.Close()
	network, err := h.Network()
	if err != nil {
		return err
	}

	f, err := IssueFixture(network, IssueOpts{
		Name:      cc.String("name"),
		ServiceID: serviceID,
		Version:   cc.Uint64("version"),
		Request: &verification.Request{
			Method:  cc.String("method"),
			URL:     cc.String("url"),
			Headers: reqHeaders,
		},
		Response: &verification.Response{
			StatusCode: uint16(cc.Uint("status")),
			Headers:    respHeaders,
			Body:       body,
		},
		Expression:        cc.String("expr"),
		Now:               time.Now(),
		MaxCertTimeOffset: cc.Duration("max-cert-time-offset"),
	})
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode([]*Fixture{f}); err != nil {
		return err
	}
	return enc.Close()
}

// VerifyFixtures verifies fixtures concurrently, at most jobs at a time,
// and returns their outcomes in order.
func VerifyFixtures(fixtures []*Fixture, opts verifier.NewOpts, jobs int) []FixtureOutcome {
	outcomes := make([]FixtureOutcome, len(fixtures))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, f := range fixtures {
		g.Go(func() error {
			outcomes[i] = f.Verify(opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func handleFixturesVerify(cc *cli.Context) error {
	if cc.Args().Len() == 0 {
		cli.ShowSubcommandHelp(cc)
		return errArgs
	}
	var fixtures []*Fixture
	for _, path := range cc.Args().Slice() {
		loaded, err := LoadFixtures(path)
		if err != nil {
			return err
		}
		fixtures = append(fixtures, loaded...)
	}

	outcomes := VerifyFixtures(fixtures, verifier.NewOpts{
		MaxBodySize: cc.Int64("max-body-size"),
		Logger:      logger,
	}, cc.Int("jobs"))

	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 1, ' ', 0)
	for _, o := range outcomes {
		status := pass("PASS")
		if !o.Ok() {
			status = fail("FAIL")
			failed++
		}
		detail := ""
		switch {
		case o.Err != nil:
			detail = "error: " + o.Err.Error()
		case o.Result.Reason != nil:
			detail = o.Result.Reason.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", status, o.Fixture.Name, detail)
	}
	w.Flush()

	if failed != 0 {
		color.Red("%d of %d fixtures failed", failed, len(outcomes))
		return errFailed
	}
	color.Green("all %d fixtures passed", len(outcomes))
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("error: loading .env: %v\n", err)
		os.Exit(1)
	}

	caPathFlag := &cli.StringFlag{
		Name:    "ca-path",
		Usage:   "path to the keys of the test network",
		Value:   ".",
		EnvVars: []string{"ICVERIFY_CA_PATH"},
	}
	serviceIDFlag := &cli.StringFlag{
		Name:     "service-id",
		Usage:    "hex encoded id of the certifying service",
		Required: true,
		EnvVars:  []string{"ICVERIFY_SERVICE_ID"},
	}
	versionFlag := &cli.Uint64Flag{
		Name:  "version",
		Usage: "version of the certificate header",
		Value: 2,
	}

	app := &cli.App{
		Name:  "icverify",
		Usage: "verify certified HTTP responses",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cpuprofile",
				Usage: "write cpu profile to file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"ICVERIFY_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "dev",
				Usage:   "human readable logs",
				EnvVars: []string{"ICVERIFY_DEV"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "network",
				Flags: []cli.Flag{caPathFlag},
				Subcommands: []*cli.Command{
					{
						Name:   "new",
						Usage:  "creates the keys of a new test network",
						Action: handleNetworkNew,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "subnet-id",
								Usage: "create a subnet the root delegates to",
							},
							&cli.StringSliceFlag{
								Name:  "range",
								Usage: "canister range <low>:<high> delegated to the subnet",
							},
						},
					},
					{
						Name:   "show",
						Usage:  "prints the public parameters",
						Action: handleNetworkShow,
					},
				},
			},
			{
				Name:      "serve",
				Usage:     "serves a directory with certified responses",
				Action:    handleServe,
				ArgsUsage: "<assets-dir>",
				Flags: []cli.Flag{
					caPathFlag,
					serviceIDFlag,
					versionFlag,
					&cli.StringFlag{
						Name:    "listen",
						Usage:   "address to listen on",
						Value:   ":8080",
						EnvVars: []string{"ICVERIFY_LISTEN"},
					},
					&cli.StringSliceFlag{
						Name:  "certified-header",
						Usage: "response header certified in version 2",
						Value: cli.NewStringSlice("content-type"),
					},
				},
			},
			{
				Name: "inspect",
				Subcommands: []*cli.Command{
					{
						Name:      "cbor",
						Usage:     "prints CBOR in diagnostic notation",
						Action:    handleInspectCbor,
						ArgsUsage: "[path]",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "max-depth",
								Usage: "maximum nesting",
								Value: cbor.DefaultMaxDepth,
							},
						},
					},
					{
						Name:      "tree",
						Usage:     "parses a CBOR encoded hash tree",
						Action:    handleInspectTree,
						ArgsUsage: "[path]",
					},
					{
						Name:      "cert",
						Usage:     "parses a CBOR encoded certificate",
						Action:    handleInspectCert,
						ArgsUsage: "[path]",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "service-id",
								Usage: "print the data certified for this service",
							},
							&cli.StringFlag{
								Name:  "root-key",
								Usage: "hex encoded DER root key to check the signature with",
							},
							&cli.BoolFlag{
								Name:  "tree",
								Usage: "print the state tree",
							},
						},
					},
					{
						Name:      "header",
						Usage:     "parses an Ic-Certificate header",
						Action:    handleInspectHeader,
						ArgsUsage: "[path]",
					},
					{
						Name:      "expr",
						Usage:     "parses a certification expression",
						Action:    handleInspectExpr,
						ArgsUsage: "[path]",
					},
				},
			},
			{
				Name: "fixtures",
				Subcommands: []*cli.Command{
					{
						Name:   "issue",
						Usage:  "certifies a response and prints it as a fixture",
						Action: handleFixturesIssue,
						Flags: []cli.Flag{
							caPathFlag,
							serviceIDFlag,
							versionFlag,
							&cli.StringFlag{
								Name:     "url",
								Category: "Request",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "method",
								Category: "Request",
								Value:    "GET",
							},
							&cli.StringSliceFlag{
								Name:     "request-header",
								Category: "Request",
								Usage:    "<name>: <value>",
							},
							&cli.UintFlag{
								Name:     "status",
								Category: "Response",
								Value:    200,
							},
							&cli.StringSliceFlag{
								Name:     "header",
								Category: "Response",
								Usage:    "<name>: <value>",
							},
							&cli.StringFlag{
								Name:     "body",
								Category: "Response",
								Usage:    "path to the response body",
							},
							&cli.StringFlag{
								Name:  "expr",
								Usage: "certification expression for version 2",
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "name of the fixture",
							},
							&cli.DurationFlag{
								Name:  "max-cert-time-offset",
								Value: http.DefaultMaxCertTimeOffset,
							},
						},
					},
					{
						Name:      "verify",
						Usage:     "verifies fixtures and reports which pass",
						Action:    handleFixturesVerify,
						ArgsUsage: "<path>...",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:    "jobs",
								Aliases: []string{"j"},
								Usage:   "number of fixtures verified concurrently",
								Value:   8,
							},
							&cli.Int64Flag{
								Name:  "max-body-size",
								Usage: "maximum size of a decoded body",
								Value: verifier.DefaultMaxBodySize,
							},
						},
					},
				},
			},
		},
		Before: func(cc *cli.Context) error {
			var err error
			if logger, err = newLogger(cc); err != nil {
				return err
			}
			if path := cc.String("cpuprofile"); path != "" {
				fCpuProfile, err = os.Create(path)
				if err != nil {
					return fmt.Errorf("create(%s): %w", path, err)
				}
				pprof.StartCPUProfile(fCpuProfile)
			}
			return nil
		},
		After: func(cc *cli.Context) error {
			if fCpuProfile != nil {
				pprof.StopCPUProfile()
			}
			_ = logger.Sync()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		if err != errArgs && err != errFailed {
			fmt.Printf("error: %v\n", err.Error())
		}
		os.Exit(1)
	}
}
