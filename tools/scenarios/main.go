// Command scenarios runs the transport's seed scenarios (loss-free
// transfer, fast retransmit, timeout-driven retransmission, out-of-order
// reassembly, handshake failure, flow-control pressure) against a loopback
// pair and prints a pass/fail summary for each, along with its elapsed
// time, packets sent and a short detail line (for example the final cwnd
// or the largest in-flight count observed).
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/flowudp/flowudp/internal/reliudp/endpoint"
	"github.com/flowudp/flowudp/internal/reliudp/harness"
)

type scenarioResult struct {
	Name        string
	Passed      bool
	Detail      string
	Elapsed     time.Duration
	PacketsSent uint64
}

func main() {
	only := flag.String("only", "", "run a single scenario by its full name (for example S1-loss-free); empty runs all")
	flag.Parse()

	scenarios := []struct {
		name string
		run  func() scenarioResult
	}{
		{"S1-loss-free", runS1LossFree},
		{"S2-fast-retransmit", runS2FastRetransmit},
		{"S3-timeout-retransmit", runS3Timeout},
		{"S4-out-of-order", runS4OutOfOrder},
		{"S5-handshake-failure", runS5HandshakeFailure},
		{"S6-flow-control", runS6FlowControl},
	}

	fmt.Println("flowudp seed scenario run")
	fmt.Println("=========================")

	var failures int
	for _, sc := range scenarios {
		if *only != "" && sc.name != *only {
			continue
		}
		result := sc.run()
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
			failures++
		}
		fmt.Printf("[%s] %-24s %-6s (sent=%d) %s\n", status, sc.name, result.Elapsed.Round(time.Millisecond), result.PacketsSent, result.Detail)
	}

	if failures > 0 {
		fmt.Printf("\n%d scenario(s) failed\n", failures)
	} else {
		fmt.Println("\nall scenarios passed")
	}
}

func newLoopbackPair(lossSim *harness.LossSimulator, opts endpoint.Options) (*endpoint.Sender, *endpoint.Receiver, error) {
	receiver, err := endpoint.NewReceiver("127.0.0.1:0", lossSim, nil, opts)
	if err != nil {
		return nil, nil, err
	}
	addr := receiver.LocalAddrString()

	sender, err := endpoint.NewSender(addr, nil, opts)
	if err != nil {
		receiver.Close()
		return nil, nil, err
	}
	return sender, receiver, nil
}

func runS1LossFree() scenarioResult {
	start := time.Now()
	sender, receiver, err := newLoopbackPair(nil, endpoint.DefaultOptions())
	if err != nil {
		return scenarioResult{Name: "S1", Detail: err.Error()}
	}
	defer sender.Close()
	defer receiver.Close()

	input := make([]byte, 3000)
	for i := range input {
		input[i] = byte(i % 256)
	}

	var output bytes.Buffer
	serverErr := make(chan error, 1)
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverErr <- err
			return
		}
		serverErr <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		return scenarioResult{Name: "S1", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	if err := sender.SendStream(ctx, bytes.NewReader(input)); err != nil {
		return scenarioResult{Name: "S1", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	<-serverErr

	stats := sender.Statistics()
	ok := bytes.Equal(output.Bytes(), input) && sender.CongestionCwnd() >= 4
	detail := fmt.Sprintf("cwnd=%.1f output=%dB", sender.CongestionCwnd(), output.Len())
	return scenarioResult{Name: "S1", Passed: ok, Detail: detail, Elapsed: time.Since(start), PacketsSent: stats.PacketsSent}
}

func runS2FastRetransmit() scenarioResult {
	start := time.Now()
	// A seeded loss simulator dropping about 10% of DATA arrivals stands in
	// for a single targeted drop. This is a smoke scenario, not a
	// deterministic unit test: it checks only that the transfer completes
	// intact, not which segment was dropped or whether fast retransmit fired.
	lossSim := harness.NewLossSimulator(0.1, 3)
	sender, receiver, err := newLoopbackPair(lossSim, endpoint.DefaultOptions())
	if err != nil {
		return scenarioResult{Name: "S2", Detail: err.Error()}
	}
	defer sender.Close()
	defer receiver.Close()

	input := make([]byte, 10*1000)
	rand.New(rand.NewSource(1)).Read(input)

	var output bytes.Buffer
	serverErr := make(chan error, 1)
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverErr <- err
			return
		}
		serverErr <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		return scenarioResult{Name: "S2", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	sendErr := sender.SendStream(ctx, bytes.NewReader(input))
	<-serverErr

	ok := sendErr == nil && bytes.Equal(output.Bytes(), input)
	return scenarioResult{Name: "S2", Passed: ok, Detail: "recovers under light loss", Elapsed: time.Since(start)}
}

func runS3Timeout() scenarioResult {
	start := time.Now()
	sender, receiver, err := newLoopbackPair(nil, endpoint.DefaultOptions())
	if err != nil {
		return scenarioResult{Name: "S3", Detail: err.Error()}
	}
	defer sender.Close()
	defer receiver.Close()

	input := make([]byte, 2000)

	var output bytes.Buffer
	serverErr := make(chan error, 1)
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverErr <- err
			return
		}
		// Simulate unreachability by delaying the start of the receive
		// loop, so the sender's first segments time out before any ACK
		// arrives.
		time.Sleep(2 * time.Second)
		serverErr <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		return scenarioResult{Name: "S3", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	if err := sender.SendStream(ctx, bytes.NewReader(input)); err != nil {
		return scenarioResult{Name: "S3", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	<-serverErr

	ok := bytes.Equal(output.Bytes(), input) && sender.CongestionCwnd() < 64
	return scenarioResult{Name: "S3", Passed: ok, Detail: "recovered after timeout", Elapsed: time.Since(start)}
}

func runS4OutOfOrder() scenarioResult {
	// The reassembly guarantee for arbitrary arrival order is covered by
	// the package-level reliability tests (TestS4OutOfOrderScenario); here
	// we only confirm a five-segment end-to-end transfer completes intact.
	// Nothing in this scenario forces the loopback socket to reorder.
	start := time.Now()
	sender, receiver, err := newLoopbackPair(nil, endpoint.DefaultOptions())
	if err != nil {
		return scenarioResult{Name: "S4", Detail: err.Error()}
	}
	defer sender.Close()
	defer receiver.Close()

	input := make([]byte, 5000)
	rand.New(rand.NewSource(4)).Read(input)

	var output bytes.Buffer
	serverErr := make(chan error, 1)
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverErr <- err
			return
		}
		serverErr <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		return scenarioResult{Name: "S4", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	if err := sender.SendStream(ctx, bytes.NewReader(input)); err != nil {
		return scenarioResult{Name: "S4", Detail: err.Error(), Elapsed: time.Since(start)}
	}
	<-serverErr

	ok := bytes.Equal(output.Bytes(), input)
	return scenarioResult{Name: "S4", Passed: ok, Detail: "reassembled", Elapsed: time.Since(start)}
}

func runS5HandshakeFailure() scenarioResult {
	start := time.Now()
	deadServer, err := endpoint.NewReceiver("127.0.0.1:0", nil, nil, endpoint.DefaultOptions())
	if err != nil {
		return scenarioResult{Name: "S5", Detail: err.Error()}
	}
	addr := deadServer.LocalAddrString()
	deadServer.Close()

	sender, err := endpoint.NewSender(addr, nil, endpoint.DefaultOptions())
	if err != nil {
		return scenarioResult{Name: "S5", Detail: err.Error()}
	}
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	err = sender.Connect(ctx)
	ok := err == endpoint.ErrHandshakeFailed
	return scenarioResult{Name: "S5", Passed: ok, Detail: fmt.Sprintf("%v", err), Elapsed: time.Since(start)}
}

// runS6FlowControl pins the receiver's advertised window to a single
// segment so the sender is flow-control-bound rather than congestion-bound,
// then polls the sender's in-flight segment count throughout the transfer
// to confirm it never exceeds the advertised window.
func runS6FlowControl() scenarioResult {
	start := time.Now()
	opts := endpoint.DefaultOptions()
	opts.MaxWindowSegments = 1
	sender, receiver, err := newLoopbackPair(nil, opts)
	if err != nil {
		return scenarioResult{Name: "S6", Detail: err.Error()}
	}
	defer sender.Close()
	defer receiver.Close()

	input := make([]byte, 4000)

	var output bytes.Buffer
	serverErr := make(chan error, 1)
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverErr <- err
			return
		}
		serverErr <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		return scenarioResult{Name: "S6", Detail: err.Error(), Elapsed: time.Since(start)}
	}

	var maxInFlight uint32
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := sender.InFlightSegments(); n > maxInFlight {
					maxInFlight = n
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	sendErr := sender.SendStream(ctx, bytes.NewReader(input))
	cancel()
	<-watchDone
	<-serverErr

	ok := sendErr == nil && bytes.Equal(output.Bytes(), input) && maxInFlight <= 1
	detail := fmt.Sprintf("max in-flight segments observed=%d", maxInFlight)
	return scenarioResult{Name: "S6", Passed: ok, Detail: detail, Elapsed: time.Since(start)}
}
