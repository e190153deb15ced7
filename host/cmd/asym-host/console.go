package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/google/shlex"

	"github.com/Kabbura/asymFreeRTOS/core"
)

// runConsole reads commands from in and submits requests by hand
func runConsole(ctx context.Context, ch *core.Channel, table *core.Table, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		parts, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "quit", "exit", "q":
			return nil

		case "help", "?":
			printHelp(out)

		case "submit":
			if err := cmdSubmit(ctx, ch, parts[1:], out); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}

		case "dump":
			for _, s := range table.Snapshot() {
				fmt.Fprintf(out, "slot %d: %-11s seq=%d status=%d payload=%v result=0x%x\n",
					s.ID, s.State, s.Seq, s.Status, s.Payload, s.Result)
			}

		case "trace":
			for _, evt := range core.TraceEvents() {
				fmt.Fprintf(out, "type=%d slot=%d seq=%d value=0x%x\n", evt.EventType, evt.Slot, evt.Seq, evt.Value)
			}

		default:
			fmt.Fprintf(out, "Unknown command: %s (type 'help' for available commands)\n", parts[0])
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	fmt.Fprintln(out, "  submit <task> [word...]  - Submit a request and wait for the result")
	fmt.Fprintln(out, "  dump                     - Print every slot")
	fmt.Fprintln(out, "  trace                    - Print the protocol event trace")
	fmt.Fprintln(out, "  help                     - Show this help message")
	fmt.Fprintln(out, "  quit/exit/q              - Exit the program")
	fmt.Fprintln(out)
}

func cmdSubmit(ctx context.Context, ch *core.Channel, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: submit <task> [word...]")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad task id %q: %w", args[0], err)
	}

	p := core.Payload{uint32(id)}
	words := args[1:]
	if len(words) > len(p)-1 {
		return fmt.Errorf("at most %d payload words", len(p)-1)
	}
	for i, w := range words {
		v, err := strconv.ParseUint(w, 0, 32)
		if err != nil {
			return fmt.Errorf("bad payload word %q: %w", w, err)
		}
		p[i+1] = uint32(v)
	}

	value, err := ch.SubmitPayload(ctx, id, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%x: Task %d Done\n", value, id)
	return nil
}
