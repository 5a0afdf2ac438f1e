// Command flh-probe is a manual test for the desk's raw BLE protocol.
// It connects to a desk, optionally runs the wake handshake, and hex-dumps
// every notification the desk sends. Useful for checking whether a desk
// speaks the FLH protocol before pointing flhctl at it.
//
// Usage:
//
//	go run ./cmd/flh-probe --address F0:B5:D1:12:34:56 [--wake] [--listen 30s]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/OTZro/flh-desk/internal/ble"
	"github.com/OTZro/flh-desk/internal/flh"
)

func main() {
	address := flag.String("address", "", "desk BLE address (required)")
	service := flag.String("service", flh.ServiceUUID, "service UUID to probe")
	wake := flag.Bool("wake", true, "run the stop+init wake handshake after connecting")
	listen := flag.Duration("listen", 30*time.Second, "how long to dump notifications")
	flag.Parse()

	if *address == "" {
		fmt.Println("Error: --address is required (find one with 'flhctl scan')")
		os.Exit(2)
	}

	adapter := ble.NewBluetoothAdapter()
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Error: enable adapter: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Connecting to %s...\n", *address)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := adapter.Connect(ctx, *address)
	if err != nil {
		fmt.Printf("Error: connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	write, err := conn.DiscoverCharacteristic(*service, flh.CommandCharUUID)
	if err != nil {
		fmt.Printf("Error: command characteristic: %v\n", err)
		os.Exit(1)
	}
	notify, err := conn.DiscoverCharacteristic(*service, flh.TelemetryCharUUID)
	if err != nil {
		fmt.Printf("Error: telemetry characteristic: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Characteristics discovered.")

	err = notify.Subscribe(func(payload []byte) {
		fmt.Printf("%s  % x", time.Now().Format("15:04:05.000"), payload)
		if h, err := flh.DecodeHeightNotification(payload); err == nil {
			fmt.Printf("  -> height %s", h)
		}
		fmt.Println()
	})
	if err != nil {
		fmt.Printf("Error: subscribe: %v\n", err)
		os.Exit(1)
	}

	if *wake {
		fmt.Println("Sending wake handshake (stop, pause, init)...")
		stop, _ := flh.EncodeMove(flh.Stop)
		if err := write.Write(stop); err != nil {
			fmt.Printf("Error: stop write: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Second)
		if err := write.Write(flh.EncodeInit()); err != nil {
			fmt.Printf("Error: init write: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("An awake desk answers with a 4-byte limits report, then ~1Hz heights.")
	}

	fmt.Printf("Listening for %s...\n", *listen)
	time.Sleep(*listen)
	fmt.Println("\nDone!")
}
