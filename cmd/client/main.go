package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/peerchat/peerchat-node/pkg/client"
	"github.com/peerchat/peerchat-node/pkg/protocol"
	"github.com/peerchat/peerchat-node/pkg/transport"
)

var (
	serverAddr = flag.String("server", "", "Server multiaddr (required)")
	port       = flag.Int("port", 0, "Local p2p port (0 = random)")
)

func main() {
	flag.Parse()

	if *serverAddr == "" {
		log.Fatal("Error: -server flag is required (the server's multiaddr)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := transport.NewP2P(ctx, &transport.P2PConfig{Port: *port})
	if err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}
	defer tr.Close()

	machine := client.NewMachine(tr)

	fmt.Printf("Connecting to %s ...\n", *serverAddr)
	server, err := tr.Connect(ctx, *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	machine.HandleConnected(server)
	fmt.Printf("Connected as %s\n", tr.Self())
	printHelp()

	go consumeEvents(tr, machine)

	runPrompt(ctx, machine)
}

// consumeEvents feeds server pushes into the machine and echoes them
// for the terminal
func consumeEvents(tr *transport.P2P, machine *client.Machine) {
	for ev := range tr.Events() {
		msg, ok := ev.(transport.MessageReceived)
		if !ok {
			continue
		}

		machine.HandleServerEvent(msg.Payload)

		decoded, err := protocol.DecodeServerEvent(msg.Payload)
		if err != nil {
			continue
		}
		switch ev := decoded.(type) {
		case protocol.AuthenticatedEvent:
			fmt.Println("** You are authenticated **")
		case protocol.ChannelStatusEvent:
			fmt.Printf("** #%s members: %s **\n", ev.Channel, joinAddrs(ev.Status))
		case protocol.MessageEvent:
			fmt.Printf("[#%s] %s: %s\n", ev.Channel, ev.Message.Author, ev.Message.Content)
		}
	}
}

func joinAddrs(addrs []protocol.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ", ")
}

func runPrompt(ctx context.Context, machine *client.Machine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendMessage(ctx, machine, line)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/signup":
			if len(fields) != 4 {
				fmt.Println("usage: /signup <email> <password> <confirm>")
				continue
			}
			submitAuth(ctx, machine, client.ModeSignUp, fields[1], fields[2], fields[3])
		case "/login":
			if len(fields) != 3 {
				fmt.Println("usage: /login <email> <password>")
				continue
			}
			submitAuth(ctx, machine, client.ModeLogin, fields[1], fields[2], "")
		case "/channels":
			for _, name := range machine.ChannelNames() {
				fmt.Printf("   #%s\n", name)
			}
		case "/join":
			if len(fields) != 2 {
				fmt.Println("usage: /join <channel>")
				continue
			}
			if err := machine.SelectChannel(protocol.ChannelName(fields[1])); err != nil {
				fmt.Printf("join failed: %v\n", err)
			}
		case "/history":
			printHistory(machine)
		case "/quit":
			return
		default:
			printHelp()
		}
	}
}

// submitAuth drives the machine's form to the requested mode first
func submitAuth(ctx context.Context, machine *client.Machine, mode client.AuthMode, email, password, confirm string) {
	if s, ok := machine.State().(client.Authenticating); ok && s.Mode != mode {
		machine.ToggleMode()
	}
	machine.SetCredentials(email, password, confirm)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := machine.SubmitAuth(callCtx); err != nil {
		fmt.Printf("authenticate failed: %v\n", err)
		return
	}
	fmt.Println("Submitted. Waiting for operator approval...")
}

func sendMessage(ctx context.Context, machine *client.Machine, content string) {
	machine.SetDraftMessage(content)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := machine.SubmitMessage(callCtx); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
}

func printHistory(machine *client.Machine) {
	ch, err := machine.ActiveChannel()
	if err != nil {
		fmt.Printf("no history: %v\n", err)
		return
	}
	// Newest first in the mirror; print oldest first for reading
	for i := len(ch.Messages) - 1; i >= 0; i-- {
		msg := ch.Messages[i]
		fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format("15:04:05"), msg.Author, msg.Content)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("   /signup <email> <password> <confirm>")
	fmt.Println("   /login <email> <password>")
	fmt.Println("   /channels")
	fmt.Println("   /join <channel>")
	fmt.Println("   /history")
	fmt.Println("   /quit")
	fmt.Println("   anything else is sent to the active channel")
}
