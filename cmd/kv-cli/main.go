// Command kv-cli is a thin REPL over internal/client, offering the
// command names of spec.md §6 in upper case: HGET, HMGET, HGETALL,
// HSET, HMSET, HDEL, HMDEL, HEXIST, HMEXIST, SUBSCRIBE, PSUBSCRIBE,
// PUBLISH.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/adred-codev/kvmesh/internal/client"
	"github.com/adred-codev/kvmesh/internal/config"
	"github.com/adred-codev/kvmesh/internal/frame"
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/tlsconn"
)

func main() {
	dotenv := os.Getenv("KV_CLIENT_CONFIG")
	cfg, err := config.LoadClientConfig(dotenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kv-cli:", err)
		os.Exit(1)
	}

	var identity *tlsconn.Identity
	if cfg.TLS.IdentityCertPEM != "" {
		identity = &tlsconn.Identity{
			CertPEM: []byte(cfg.TLS.IdentityCertPEM),
			KeyPEM:  []byte(cfg.TLS.IdentityKeyPEM),
		}
	}
	var caPEM []byte
	if cfg.TLS.CAPEM != "" {
		caPEM = []byte(cfg.TLS.CAPEM)
	}
	connector, err := tlsconn.NewClientConnector(cfg.TLS.Domain, identity, caPEM)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kv-cli:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := client.StartClient(ctx, client.Config{
		Addr:      cfg.General.Addr,
		Connector: connector,
		Codec:     frame.CodecGzip,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "kv-cli: connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	runRepl(ctx, conn)
}

func runRepl(ctx context.Context, conn *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("kvmesh> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("kvmesh> ")
			continue
		}
		runOne(ctx, conn, line)
		fmt.Print("kvmesh> ")
	}
}

func runOne(ctx context.Context, conn *client.Client, line string) {
	fields := strings.Fields(line)
	req, err := parseCommand(fields)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	stream, err := conn.OpenStream()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer stream.Close()

	if req.Kind.IsStreaming() && (req.Kind == pb.ReqSubscribe || req.Kind == pb.ReqPSubscribe) {
		result, err := stream.ExecuteStreaming(ctx, req)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("subscribed, id =", result.ID)
		for resp := range result.Inner {
			printResponse(resp)
		}
		return
	}

	resp, err := stream.Execute(ctx, req)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printResponse(resp)
}

func printResponse(resp *pb.CommandResponse) {
	if resp.Status != 200 {
		fmt.Printf("status=%d message=%q\n", resp.Status, resp.Message)
		return
	}
	for _, v := range resp.Values {
		fmt.Println(describeValue(v))
	}
	for _, p := range resp.Kvpairs {
		fmt.Printf("%s => %s\n", p.Key, describeValue(p.Value))
	}
}

func describeValue(v pb.Value) string {
	switch v.Kind {
	case pb.KindNull:
		return "(nil)"
	case pb.KindString:
		return v.Str
	case pb.KindBinary:
		return fmt.Sprintf("%x", v.Bin)
	case pb.KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case pb.KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case pb.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return "(unknown)"
	}
}

func parseCommand(fields []string) (*pb.CommandRequest, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	name := strings.ToUpper(fields[0])
	args := fields[1:]

	switch name {
	case "HGET":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: HGET table key")
		}
		return &pb.CommandRequest{Kind: pb.ReqHget, Table: args[0], Key: args[1]}, nil
	case "HMGET":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: HMGET table key [key...]")
		}
		return &pb.CommandRequest{Kind: pb.ReqHmget, Table: args[0], Keys: args[1:]}, nil
	case "HGETALL":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: HGETALL table")
		}
		return &pb.CommandRequest{Kind: pb.ReqHgetall, Table: args[0]}, nil
	case "HSET":
		if len(args) != 3 {
			return nil, fmt.Errorf("usage: HSET table key value")
		}
		return &pb.CommandRequest{
			Kind: pb.ReqHset, Table: args[0],
			Pair: pb.KvPair{Key: args[1], Value: pb.StringValue(args[2])}, HasPair: true,
		}, nil
	case "HMSET":
		if len(args) < 3 || len(args)%2 != 1 {
			return nil, fmt.Errorf("usage: HMSET table key value [key value...]")
		}
		pairs := make([]pb.KvPair, 0, (len(args)-1)/2)
		for i := 1; i < len(args); i += 2 {
			pairs = append(pairs, pb.KvPair{Key: args[i], Value: pb.StringValue(args[i+1])})
		}
		return &pb.CommandRequest{Kind: pb.ReqHmset, Table: args[0], Pairs: pairs}, nil
	case "HDEL":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: HDEL table key")
		}
		return &pb.CommandRequest{Kind: pb.ReqHdel, Table: args[0], Key: args[1]}, nil
	case "HMDEL":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: HMDEL table key [key...]")
		}
		return &pb.CommandRequest{Kind: pb.ReqHmdel, Table: args[0], Keys: args[1:]}, nil
	case "HEXIST":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: HEXIST table key")
		}
		return &pb.CommandRequest{Kind: pb.ReqHexist, Table: args[0], Key: args[1]}, nil
	case "HMEXIST":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: HMEXIST table key [key...]")
		}
		return &pb.CommandRequest{Kind: pb.ReqHmexist, Table: args[0], Keys: args[1:]}, nil
	case "SUBSCRIBE":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: SUBSCRIBE topic")
		}
		return &pb.CommandRequest{Kind: pb.ReqSubscribe, Topic: args[0]}, nil
	case "PSUBSCRIBE":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: PSUBSCRIBE pattern")
		}
		return &pb.CommandRequest{Kind: pb.ReqPSubscribe, Pattern: args[0]}, nil
	case "PUBLISH":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: PUBLISH topic value [value...]")
		}
		values := make([]pb.Value, 0, len(args)-1)
		for _, a := range args[1:] {
			values = append(values, pb.StringValue(a))
		}
		return &pb.CommandRequest{Kind: pb.ReqPublish, Topic: args[0], Values: values}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}
