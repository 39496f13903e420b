// cmd/nodectl is the CLI client for a DHT node's control-plane API, built
// with Cobra, directly adapted from the teacher's cmd/client/main.go.
//
// Usage:
//
//	nodectl put <location> <domain> <content> <version> <payload-base64> --server http://localhost:8080
//	nodectl get <location> <domain> <content> <version>                  --server http://localhost:8080
//	nodectl delete <location> <domain> <content> <version>               --server http://localhost:8080
//	nodectl peers ping <host:port>                                       --server http://localhost:8080
//	nodectl peers bootstrap <host:port> [<host:port> ...]                --server http://localhost:8080
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dhtcore/internal/kadid"
	"dhtcore/internal/nodeclient"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "nodectl",
		Short: "CLI client for a dhtcore node's control-plane API",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "node control-plane address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), digestCmd(), peersCmd(), directCmd(), broadcastCmd(), shutdownCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseKey(locationHex, domainHex, contentHex, versionHex string) (kadid.Key640, error) {
	var key kadid.Key640
	var err error
	if key.Location, err = kadid.IDFromHex(locationHex); err != nil {
		return key, err
	}
	if key.Domain, err = kadid.IDFromHex(domainHex); err != nil {
		return key, err
	}
	if key.Content, err = kadid.IDFromHex(contentHex); err != nil {
		return key, err
	}
	if key.Version, err = kadid.IDFromHex(versionHex); err != nil {
		return key, err
	}
	return key, nil
}

// ─── put ──────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	var ttlSeconds int32
	var claimDomain, putIfAbsent, protectedEntry bool

	cmd := &cobra.Command{
		Use:   "put <location> <domain> <content> <version> <payload-base64>",
		Short: "Store a value at a 4-coordinate key",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1], args[2], args[3])
			if err != nil {
				return err
			}
			payload, err := base64.StdEncoding.DecodeString(args[4])
			if err != nil {
				return fmt.Errorf("payload must be base64: %w", err)
			}
			c := nodeclient.New(serverAddr, timeout)
			result, err := c.Put(context.Background(), key, nodeclient.DataRequest{
				Payload:        payload,
				TTLSeconds:     ttlSeconds,
				ClaimDomain:    claimDomain,
				PutIfAbsent:    putIfAbsent,
				ProtectedEntry: protectedEntry,
			})
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	cmd.Flags().Int32Var(&ttlSeconds, "ttl", 0, "entry TTL in seconds (0 = no TTL)")
	cmd.Flags().BoolVar(&claimDomain, "claim-domain", false, "claim the domain with the accompanying public key")
	cmd.Flags().BoolVar(&putIfAbsent, "if-absent", false, "fail instead of overwriting an existing entry")
	cmd.Flags().BoolVar(&protectedEntry, "protected", false, "mark the entry as entry-protected (protectedEntry)")
	return cmd
}

// ─── get ──────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <location> <domain> <content> <version>",
		Short: "Retrieve a value by 4-coordinate key",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1], args[2], args[3])
			if err != nil {
				return err
			}
			c := nodeclient.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), key)
			if err == nodeclient.ErrNotFound {
				fmt.Println("not found")
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── delete ─────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	var publicKeyB64 string
	cmd := &cobra.Command{
		Use:   "delete <location> <domain> <content> <version>",
		Short: "Remove a value by 4-coordinate key",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1], args[2], args[3])
			if err != nil {
				return err
			}
			var publicKey []byte
			if publicKeyB64 != "" {
				publicKey, err = base64.StdEncoding.DecodeString(publicKeyB64)
				if err != nil {
					return err
				}
			}
			c := nodeclient.New(serverAddr, timeout)
			result, err := c.Remove(context.Background(), key, publicKey)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&publicKeyB64, "public-key", "", "base64 public key proving domain ownership")
	return cmd
}

// ─── digest ───────────────────────────────────────────────────────────────

func digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <location>",
		Short: "Fetch content hashes for every entry under a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := kadid.IDFromHex(args[0])
			if err != nil {
				return err
			}
			c := nodeclient.New(serverAddr, timeout)
			hashes, err := c.Digest(context.Background(), location)
			if err != nil {
				return err
			}
			prettyPrint(hashes)
			return nil
		},
	}
}

// ─── peers ────────────────────────────────────────────────────────────────

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Routing-table inspection and membership commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "bootstrap <host:port> [<host:port> ...]",
		Short: "Seed the routing table from known peer addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := nodeclient.New(serverAddr, timeout)
			return c.Bootstrap(context.Background(), args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ping <host:port>",
		Short: "Ping a peer address directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := nodeclient.New(serverAddr, timeout)
			return c.Ping(context.Background(), args[0])
		},
	})

	return cmd
}

// ─── direct / broadcast / shutdown ─────────────────────────────────────────

func directCmd() *cobra.Command {
	var cancelOnFinish bool
	cmd := &cobra.Command{
		Use:   "direct <peer-id-hex> <payload-base64>",
		Short: "Send an opaque direct message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peerID, err := kadid.IDFromHex(args[0])
			if err != nil {
				return err
			}
			payload, err := base64.StdEncoding.DecodeString(args[1])
			if err != nil {
				return err
			}
			c := nodeclient.New(serverAddr, timeout)
			responses, err := c.SendDirect(context.Background(), peerID, payload, cancelOnFinish)
			if err != nil {
				return err
			}
			for _, r := range responses {
				fmt.Println(base64.StdEncoding.EncodeToString(r))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cancelOnFinish, "cancel-on-finish", false, "cancel remaining in-flight replies once the first arrives")
	return cmd
}

func broadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <payload-base64>",
		Short: "Flood a payload to every known peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := base64.StdEncoding.DecodeString(args[0])
			if err != nil {
				return err
			}
			c := nodeclient.New(serverAddr, timeout)
			return c.Broadcast(context.Background(), payload)
		},
	}
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Shut down the target node gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := nodeclient.New(serverAddr, timeout)
			return c.Shutdown(context.Background())
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
