package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/defistate/defistate-dex-go/auth"
	"github.com/defistate/defistate-dex-go/cmd/client/config"
	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/patcher"
	"github.com/defistate/defistate-dex-go/streams/jsonrpc/client"
	"github.com/holiman/uint256"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	DefaultClientStateBufferSize = 100
	callTimeout                  = 10 * time.Second
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// SafeState is a thread-safe container for the latest pool state.
type SafeState struct {
	mu    sync.RWMutex
	state *engine.State
}

func (s *SafeState) Update(newState *engine.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState
}

func (s *SafeState) Get() *engine.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

type console struct {
	ctx    context.Context
	state  *SafeState
	caller *client.Caller
	signer *auth.Signer // nil when no private key is configured
	reader *bufio.Reader
}

func main() {
	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile("console.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check console.log for details." + Reset)
		os.Exit(1)
	}

	// --- 2. CONFIG & CONTEXT ---
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		closeApp()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var signer *auth.Signer
	if cfg.PrivateKey != "" {
		signer, err = auth.SignerFromHex(cfg.PrivateKey)
		if err != nil {
			rootLogger.Error("Failed to load private key", "error", err)
			closeApp()
		}
	}

	// --- 3. INITIALIZE CLIENTS ---
	stream, err := client.NewClient(ctx, client.Config{
		URL:          cfg.PoolStreamURL,
		Logger:       rootLogger.With("component", "jsonrpc-client"),
		BufferSize:   DefaultClientStateBufferSize,
		StatePatcher: patcher.Patch,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "error", err)
		closeApp()
	}

	caller, err := client.Dial(ctx, cfg.RPCURL)
	if err != nil {
		rootLogger.Error("Failed to dial RPC endpoint", "error", err)
		closeApp()
	}
	defer caller.Close()

	// --- 4. START CONSOLE & STATE LOOP ---
	c := &console{
		ctx:    ctx,
		state:  &SafeState{},
		caller: caller,
		signer: signer,
		reader: bufio.NewReader(os.Stdin),
	}

	fmt.Println(Green + "Starting DEX console..." + Reset)
	fmt.Println("Logs are being written to 'console.log'")
	go c.run()

	for {
		select {
		case n := <-stream.State():
			c.state.Update(n)
		case err := <-stream.Err():
			rootLogger.Error("Fatal client error", "error", err)
			closeApp()
		case <-ctx.Done():
			fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
			return
		}
	}
}

func (c *console) run() {
	time.Sleep(500 * time.Millisecond)
	for {
		if c.ctx.Err() != nil {
			return
		}

		printMenu(c.signer)
		input := c.prompt("Enter selection")
		c.handleCommand(input)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		c.reader.ReadString('\n')
	}
}

func printMenu(signer *auth.Signer) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "DEX CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	if signer != nil {
		fmt.Println(Gray + "account " + signer.Account().Hex() + Reset)
	}
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Stream Status\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Pool Balances\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Price Quote\n", Cyan, Reset)
	fmt.Printf(" %s4.%s Deposit   %s(signed)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Withdraw  %s(signed)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s6.%s Swap      %s(signed)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func (c *console) handleCommand(input string) {
	state := c.state.Get()

	if state == nil && (input == "1" || input == "2") {
		fmt.Println("\n" + Yellow + "[INFO] Waiting for first state update... (Check connection/logs)" + Reset)
		return
	}

	switch input {
	case "1":
		printStatus(state)
	case "2":
		printPools(state)
	case "3":
		c.quote()
	case "4":
		c.submitPair(engine.CallDeposit)
	case "5":
		c.submitPair(engine.CallWithdraw)
	case "6":
		c.swap()
	case "q":
		exitConsole()
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func printStatus(state *engine.State) {
	ts := time.Unix(0, int64(state.Timestamp)).Format("15:04:05")
	fmt.Printf("\n%sSTATUS  ::%s Sequence %s#%d%s | Pools %s%d%s | Treasury %s%s%s | Time %s%s%s\n",
		Green, Reset,
		Bold, state.Sequence, Reset,
		Bold, len(state.Pools), Reset,
		Bold, state.Treasury.Hex(), Reset,
		Bold, ts, Reset,
	)
}

func printPools(state *engine.State) {
	header("POOL BALANCES")

	ids := make([]engine.AssetID, 0, len(state.Pools))
	for id := range state.Pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ASSET\tBALANCE\t")
	fmt.Fprintln(w, "-----\t-------\t")
	for _, id := range ids {
		fmt.Fprintf(w, "%d\t%s\t\n", id, state.Pools[id].Dec())
	}
	w.Flush()
}

func (c *console) quote() {
	header("PRICE QUOTE")
	assetIn, amountIn, ok := c.readLeg("Asset in", "Amount in")
	if !ok {
		return
	}
	assetOut, ok := c.readAsset("Asset out")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()
	amountOut, err := c.caller.Quote(ctx, assetIn, amountIn, assetOut)
	if err != nil {
		fmt.Println(Red + "Quote failed: " + err.Error() + Reset)
		return
	}
	fmt.Printf("%s%s%s of asset %d\n", Bold, amountOut.Dec(), Reset, assetOut)
}

func (c *console) submitPair(kind engine.CallKind) {
	header(strings.ToUpper(string(kind)))
	assetA, amountA, ok := c.readLeg("Asset A", "Amount A")
	if !ok {
		return
	}
	assetB, amountB, ok := c.readLeg("Asset B", "Amount B")
	if !ok {
		return
	}
	c.submit(&engine.Request{Kind: kind, AssetA: assetA, AmountA: amountA, AssetB: assetB, AmountB: amountB})
}

func (c *console) swap() {
	header("SWAP")
	assetIn, amountIn, ok := c.readLeg("Asset in", "Amount in")
	if !ok {
		return
	}
	assetOut, ok := c.readAsset("Asset out")
	if !ok {
		return
	}
	c.submit(&engine.Request{Kind: engine.CallSwap, AssetA: assetIn, AmountA: amountIn, AssetB: assetOut})
}

func (c *console) submit(req *engine.Request) {
	if c.signer == nil {
		fmt.Println(Yellow + "[INFO] No private_key configured; signed calls are disabled." + Reset)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()

	nonce, err := c.caller.Nonce(ctx, c.signer.Account())
	if err != nil {
		fmt.Println(Red + "Failed to fetch nonce: " + err.Error() + Reset)
		return
	}
	req.Nonce = nonce
	if err := c.signer.Sign(req); err != nil {
		fmt.Println(Red + "Failed to sign request: " + err.Error() + Reset)
		return
	}

	receipt, err := c.caller.Submit(ctx, req)
	if err != nil {
		fmt.Println(Red + "Rejected: " + err.Error() + Reset)
		return
	}
	fmt.Printf("%sOK%s %s by %s\n", Green, Reset, receipt.Operation, receipt.Account.Hex())
	fmt.Println(Gray + string(receipt.Event) + Reset)
}

// --- INPUT HELPERS ---

func (c *console) prompt(label string) string {
	fmt.Print(Bold + label + ": " + Reset)
	input, err := c.reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func (c *console) readAsset(label string) (engine.AssetID, bool) {
	id, err := strconv.ParseUint(c.prompt(label), 10, 64)
	if err != nil {
		fmt.Println(Red + "Invalid asset id." + Reset)
		return 0, false
	}
	return engine.AssetID(id), true
}

func (c *console) readLeg(assetLabel, amountLabel string) (engine.AssetID, *uint256.Int, bool) {
	asset, ok := c.readAsset(assetLabel)
	if !ok {
		return 0, nil, false
	}
	amount, err := uint256.FromDecimal(c.prompt(amountLabel))
	if err != nil {
		fmt.Println(Red + "Invalid amount." + Reset)
		return 0, nil, false
	}
	return asset, amount, true
}

func exitConsole() {
	fmt.Println(Yellow + "Exiting..." + Reset)
	os.Exit(0)
}

func loadConfig() (*config.ClientConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
