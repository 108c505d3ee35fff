package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-relay/pkg/profiles"
	"github.com/samvad-hq/samvad-relay/pkg/request"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	timeout        time.Duration
	forwardQueries bool
}

type doFlags struct {
	protocol string
	hostname string
	path     string
	port     int
	method   string
	data     string
	queries  string
	proxy    string
	headers  []string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Send JSON requests through the relay request helper",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "overall request timeout (0 disables)")
	root.PersistentFlags().BoolVar(&g.forwardQueries, "forward-queries", false, "append encoded queries to the URL")

	root.AddCommand(newDoCmd(g), newProfileCmd(g))
	return root
}

func newDoCmd(g *globalFlags) *cobra.Command {
	f := &doFlags{}
	cmd := &cobra.Command{
		Use:   "do",
		Short: "Send an ad-hoc request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			return send(cmd.Context(), cmd.OutOrStdout(), g, opts)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.protocol, "protocol", "https", "http or https")
	fl.StringVar(&f.hostname, "host", "", "target hostname")
	fl.StringVar(&f.path, "path", "/", "request path")
	fl.IntVar(&f.port, "port", 0, "target port (0 uses the scheme default)")
	fl.StringVarP(&f.method, "method", "X", "GET", "HTTP method")
	fl.StringVarP(&f.data, "data", "d", "", "body or GET data: a JSON object or a raw string")
	fl.StringVar(&f.queries, "queries", "", "queries as a JSON object")
	fl.StringVar(&f.proxy, "proxy", "", "proxy URL (http, https or socks5)")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, "extra header as 'Name: value' (repeatable)")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newProfileCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "profile <id>",
		Short: "Send the request described by a named profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := profiles.LoadRegistry(file)
			if err != nil {
				return err
			}
			p, ok := reg.ByID(args[0])
			if !ok {
				return fmt.Errorf("profile %q not found in %s", args[0], file)
			}
			return send(cmd.Context(), cmd.OutOrStdout(), g, p.Options())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "./configs/profiles.yaml", "profiles file (YAML or JSON)")
	return cmd
}

func (f *doFlags) options() (request.Options, error) {
	data, err := parsePayload(f.data)
	if err != nil {
		return request.Options{}, fmt.Errorf("--data: %w", err)
	}
	queries, err := parsePayload(f.queries)
	if err != nil {
		return request.Options{}, fmt.Errorf("--queries: %w", err)
	}
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return request.Options{}, err
	}
	return request.Options{
		Protocol: request.ParseProtocol(f.protocol),
		Hostname: f.hostname,
		Path:     f.path,
		Port:     f.port,
		Method:   f.method,
		Data:     data,
		Queries:  queries,
		Proxy:    f.proxy,
		Headers:  headers,
	}, nil
}

// parsePayload keeps JSON objects ordered and passes anything else through as a string.
func parsePayload(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return raw, nil
	}
	var p profiles.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return p.Value, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", h)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

func send(ctx context.Context, out io.Writer, g *globalFlags, opts request.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var (
		body any
		err  error
	)
	if g.forwardQueries {
		body, err = request.New(request.WithForwardQueries(true)).Do(ctx, opts)
	} else {
		body, err = request.Do(ctx, opts)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}
