package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"voucherchain/cmd/internal/secret"
	"voucherchain/core"
	"voucherchain/core/metatx"
	"voucherchain/crypto"
	"voucherchain/rpc"
)

const keyEnv = "VOUCHERCTL_KEY"

var (
	ctlNow     = time.Now
	httpClient = &http.Client{Timeout: 15 * time.Second}
	keySource  = secret.NewSource(keyEnv, "signing key (hex)")
)

func main() {
	os.Exit(runCommand(os.Args[1:], os.Stdout, os.Stderr))
}

func runCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "sign":
		return runSign(args[1:], stdout, stderr, false)
	case "relay":
		return runSign(args[1:], stdout, stderr, true)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "methods":
		for _, method := range core.RelayMethods() {
			fmt.Fprintln(stdout, method)
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: voucherctl <command> [flags]",
		"",
		"Commands:",
		"  keygen  --out FILE                      generate a signing key",
		"  address [--key FILE]                    print the key's address",
		"  sign    --method M [--payload JSON]     print a signed relay request",
		"  relay   --method M [--payload JSON]     sign and submit to voucherd",
		"  get     PATH                            GET a query route",
		"  methods                                 list relayable methods",
		"",
		"Keys are read from --key, then " + keyEnv + ", then a terminal prompt.",
	}, "\n")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "file to write the hex key to")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, []byte(hex.EncodeToString(key.Bytes())), 0o600); err != nil {
		fmt.Fprintf(stderr, "Error: write key: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyFile := fs.String("key", "", "hex key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runSign(args []string, stdout, stderr io.Writer, submit bool) int {
	name := "sign"
	if submit {
		name = "relay"
	}
	fs := newFlagSet(name, stderr)
	keyFile := fs.String("key", "", "hex key file")
	method := fs.String("method", "", "relay method, see `voucherctl methods`")
	payload := fs.String("payload", "{}", "JSON payload for the method")
	nonce := fs.Uint64("nonce", 0, "relay nonce; defaults to the current time in nanoseconds")
	domain := fs.String("domain", core.DefaultRelayDomain, "relay signing domain")
	endpoint := fs.String("rpc", defaultEndpoint(), "voucherd base URL")
	idempotencyKey := fs.String("idempotency-key", "", "optional Idempotency-Key header")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*method) == "" {
		fmt.Fprintln(stderr, "Error: --method is required")
		return 1
	}
	// Requests travel compacted, so the signature must cover the compact form.
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(*payload)); err != nil {
		fmt.Fprintln(stderr, "Error: --payload must be valid JSON")
		return 1
	}
	key, err := loadKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	env := &metatx.Envelope{
		Nonce:   *nonce,
		Method:  strings.TrimSpace(*method),
		Payload: json.RawMessage(compact.Bytes()),
	}
	if env.Nonce == 0 {
		env.Nonce = uint64(ctlNow().UnixNano())
	}
	if err := metatx.Sign(*domain, env, key); err != nil {
		fmt.Fprintf(stderr, "Error: sign: %v\n", err)
		return 1
	}
	body, err := json.Marshal(rpc.NewRelayRequest(env))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !submit {
		fmt.Fprintln(stdout, string(body))
		return 0
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*endpoint, "/")+"/v1/relay", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(*idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return printResponse(req, stdout, stderr)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	endpoint := fs.String("rpc", defaultEndpoint(), "voucherd base URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one route path is required")
		return 1
	}
	path := fs.Arg(0)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(*endpoint, "/")+path, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResponse(req, stdout, stderr)
}

func printResponse(req *http.Request, stdout, stderr io.Writer) int {
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read response: %v\n", err)
		return 1
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	if resp.StatusCode >= 300 {
		fmt.Fprintf(stderr, "Error: %s\n%s\n", resp.Status, raw)
		return 1
	}
	fmt.Fprintln(stdout, string(raw))
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	var encoded string
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		encoded = string(data)
	} else {
		value, err := keySource.Get()
		if err != nil {
			return nil, err
		}
		encoded = value
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}

func defaultEndpoint() string {
	if value := strings.TrimSpace(os.Getenv("VOUCHERD_URL")); value != "" {
		return value
	}
	return "http://localhost:8080"
}
