// Command bookingclient is an interactive CLI over the facility-booking
// reliability engine described in spec.md §4.6.
//
// Usage: bookingclient <host> <port> <semantics>
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyzyman/bookingd/internal/client"
	"github.com/iyzyman/bookingd/internal/config"
	"github.com/iyzyman/bookingd/internal/proto"
	"github.com/iyzyman/bookingd/internal/timeslot"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bookingclient <host> <port> <semantics>",
		Short: "Interactive client for the facility-booking RPC server",
		Args:  cobra.ExactArgs(3),
		RunE:  runClient,
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	host := args[0]
	if _, err := strconv.Atoi(args[1]); err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	semantics := config.Semantics(args[2])
	if !semantics.Valid() {
		return fmt.Errorf("unknown semantics %q: must be %q or %q", args[2], config.AtLeastOnce, config.AtMostOnce)
	}

	env, err := config.LoadClientEnv(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(env.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	serverAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, args[1]))
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("open client socket: %w", err)
	}
	defer conn.Close()

	engine := client.New(conn, serverAddr,
		client.WithTimeout(time.Duration(env.TimeoutSeconds)*time.Second),
		client.WithMaxAttempts(env.MaxAttempts),
		client.WithLogger(sugar),
	)

	fmt.Printf("Connected to %s (semantics=%s)\n", serverAddr, semantics)
	runMenu(engine)
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// runMenu is the contractual positional plumbing around the engine; the
// interactive shape of the menu itself is out of scope (spec.md §1/§6).
func runMenu(engine *client.Engine) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("\n1. query  2. book  3. change  4. extend  5. cancel  6. monitor  7. exit")
		fmt.Print("Enter command: ")
		line, _ := reader.ReadString('\n')
		switch strings.TrimSpace(line) {
		case "1", "query":
			handleQuery(reader, engine)
		case "2", "book":
			handleBook(reader, engine)
		case "3", "change":
			handleChange(reader, engine)
		case "4", "extend":
			handleExtend(reader, engine)
		case "5", "cancel":
			handleCancel(reader, engine)
		case "6", "monitor":
			handleMonitor(reader, engine)
		case "7", "exit":
			printLatencyStats(engine.Stats())
			fmt.Println("Exiting.")
			return
		default:
			fmt.Println("Unknown command.")
		}
	}
}

func handleQuery(reader *bufio.Reader, engine *client.Engine) {
	facility := prompt(reader, "Facility: ")
	days := promptDays(reader)
	reply, err := engine.Call(proto.QueryRequest{Facility: facility, Days: days})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(reply)
}

func handleBook(reader *bufio.Reader, engine *client.Engine) {
	facility := prompt(reader, "Facility: ")
	start := promptTriple(reader, "start")
	end := promptTriple(reader, "end")
	reply, err := engine.Call(proto.BookRequest{Facility: facility, Start: start, End: end})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(reply)
}

func handleChange(reader *bufio.Reader, engine *client.Engine) {
	id := prompt(reader, "Confirmation ID: ")
	offset := promptInt(reader, "Offset minutes (may be negative): ")
	reply, err := engine.Call(proto.ChangeRequest{ConfirmationID: id, OffsetMinutes: int32(offset)})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(reply)
}

func handleExtend(reader *bufio.Reader, engine *client.Engine) {
	id := prompt(reader, "Confirmation ID: ")
	extra := promptInt(reader, "Extra minutes: ")
	reply, err := engine.Call(proto.ExtendRequest{ConfirmationID: id, ExtraMinutes: uint32(extra)})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(reply)
}

func handleCancel(reader *bufio.Reader, engine *client.Engine) {
	id := prompt(reader, "Confirmation ID: ")
	reply, err := engine.Call(proto.CancelRequest{ConfirmationID: id})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printReply(reply)
}

func handleMonitor(reader *bufio.Reader, engine *client.Engine) {
	facility := prompt(reader, "Facility: ")
	seconds := promptInt(reader, "Duration seconds: ")
	fmt.Println("Monitoring... (blocks for the duration)")
	err := engine.Monitor(facility, time.Duration(seconds)*time.Second, func(u proto.MonitorUpdate) {
		fmt.Printf("update: %s now has %d free interval(s)\n", u.Facility, len(u.Free))
	})
	if err != nil {
		fmt.Println("error:", err)
	}
}

// printLatencyStats summarizes end-to-end call latency recorded over the
// session, giving a quantitative basis for comparing at-least-once and
// at-most-once behavior under loss (spec.md §1).
func printLatencyStats(h *hdrhistogram.Histogram) {
	if h.TotalCount() == 0 {
		fmt.Println("no calls completed this session")
		return
	}
	fmt.Printf("call latency (microseconds), n=%d: min=%d p50=%d p99=%d max=%d\n",
		h.TotalCount(), h.Min(), h.ValueAtQuantile(50), h.ValueAtQuantile(99), h.Max())
}

func printReply(reply proto.Reply) {
	switch p := reply.Payload.(type) {
	case proto.ErrorReply:
		fmt.Printf("ERROR %s: %s\n", p.Code, p.Detail)
	case proto.BookReply:
		fmt.Printf("booked, confirmation id: %s\n", p.ConfirmationID)
	case proto.QueryReply:
		fmt.Printf("%d free interval(s):\n", len(p.Free))
		for _, iv := range p.Free {
			fmt.Printf("  %s - %s\n", timeslot.FromMinutes(iv.Start), timeslot.FromMinutes(iv.End))
		}
	case proto.Empty:
		fmt.Println("ok")
	default:
		fmt.Printf("%+v\n", p)
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptInt(reader *bufio.Reader, label string) int {
	v, err := strconv.Atoi(prompt(reader, label))
	if err != nil {
		return 0
	}
	return v
}

func promptTriple(reader *bufio.Reader, label string) timeslot.Triple {
	fmt.Printf("%s day (0=Mon..6=Sun): ", label)
	day := promptInt(reader, "")
	fmt.Printf("%s hour (0-23): ", label)
	hour := promptInt(reader, "")
	fmt.Printf("%s minute (0-59): ", label)
	minute := promptInt(reader, "")
	return timeslot.Triple{Day: uint8(day), Hour: uint8(hour), Minute: uint8(minute)}
}

func promptDays(reader *bufio.Reader) []uint8 {
	raw := prompt(reader, "Days (comma-separated 0-6, blank = whole week): ")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	days := make([]uint8, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, uint8(n))
	}
	return days
}
