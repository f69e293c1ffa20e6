// eid-pace runs PACE against an eID card and prints the session keys.
//
// The card is reached through a local PC/SC reader or a remote reader
// speaking the vpcd framing, such as eid-picc.
//
// Usage:
//
//	eid-pace [options]
//
// Options:
//
//	-config        YAML configuration file (flags override its values)
//	-reader        PC/SC reader name (default: first reader)
//	-remote        host:port of a remote card
//	-list          list PC/SC readers and exit
//	-card-access   EF.CardAccess file (DER)
//	-protocol      PACE protocol name or OID, used without -card-access
//	-parameter-id  standardized domain parameter ID, used with -protocol
//	-type          password type: MRZ, CAN, PIN or PUK
//	-extended      send extended length APDUs
//	-timeout       overall timeout (default: 30s)
//	-v             debug logging
//
// The password is read from the terminal without echo, or from the
// EID_PASSWORD environment variable. On failure the error kind and the
// retry counter are printed and the exit status is 2.
//
// Example:
//
//	eid-pace -remote 127.0.0.1:35963 -protocol id-PACE-ECDH-GM-AES-CBC-CMAC-128 -parameter-id 13 -type CAN
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"
	"golang.org/x/term"

	"github.com/backkem/eid/internal/config"
	"github.com/backkem/eid/pkg/apdu"
	"github.com/backkem/eid/pkg/pace"
	"github.com/backkem/eid/pkg/transport"
)

const defaultTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	reader := flag.String("reader", "", "PC/SC reader name")
	remote := flag.String("remote", "", "host:port of a remote card")
	list := flag.Bool("list", false, "list PC/SC readers and exit")
	cardAccess := flag.String("card-access", "", "EF.CardAccess file (DER)")
	protocol := flag.String("protocol", "", "PACE protocol name or OID")
	parameterID := flag.Int("parameter-id", pace.ParameterIDAbsent, "standardized domain parameter ID")
	passwordType := flag.String("type", "", "password type: MRZ, CAN, PIN or PUK")
	extended := flag.Bool("extended", false, "send extended length APDUs")
	timeout := flag.Duration("timeout", 0, "overall timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	cfg := &config.Terminal{}
	if *configPath != "" {
		loaded, err := config.LoadTerminal(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = loaded
	}
	applyFlags(cfg, *reader, *remote, *cardAccess, *protocol, *parameterID, *passwordType, *extended, *timeout)

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = level
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	if *list {
		if err := listReaders(loggerFactory); err != nil {
			log.Fatalf("list readers failed: %v", err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	os.Exit(run(cfg, loggerFactory))
}

func applyFlags(cfg *config.Terminal, reader, remote, cardAccess, protocol string, parameterID int, passwordType string, extended bool, timeout time.Duration) {
	if reader != "" {
		cfg.Reader.PCSC = reader
		cfg.Reader.Remote = ""
	}
	if remote != "" {
		cfg.Reader.Remote = remote
		cfg.Reader.PCSC = ""
	}
	if extended {
		cfg.Reader.ExtendedLength = true
	}
	if cardAccess != "" {
		cfg.CardAccessFile = cardAccess
	}
	if protocol != "" {
		cfg.CardAccessFile = ""
		cfg.Protocol = &config.ProtocolConfig{Protocol: protocol}
		if parameterID != pace.ParameterIDAbsent {
			cfg.Protocol.ParameterID = &parameterID
		}
	}
	if passwordType != "" {
		cfg.PasswordType = passwordType
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
}

func listReaders(loggerFactory logging.LoggerFactory) error {
	pcsc, err := transport.NewPCSC(transport.PCSCConfig{LoggerFactory: loggerFactory})
	if err != nil {
		return err
	}
	defer pcsc.Close()

	readers, err := pcsc.Readers()
	if err != nil {
		return err
	}
	for i, r := range readers {
		fmt.Printf("%d: %s\n", i, r)
	}
	return nil
}

// run executes PACE and returns the exit status. Deferred cleanup
// completes before main exits.
func run(cfg *config.Terminal, loggerFactory logging.LoggerFactory) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	info, raw, err := cfg.SecurityInfo()
	if err != nil {
		log.Printf("security info: %v", err)
		return 1
	}
	var chat []byte
	if cfg.CHAT != nil {
		if chat, err = cfg.CHAT.Encode(); err != nil {
			log.Printf("CHAT: %v", err)
			return 1
		}
	}

	t, slot, closeFn, err := openReader(ctx, cfg.Reader, loggerFactory)
	if err != nil {
		log.Printf("open reader: %v", err)
		return 1
	}
	defer closeFn()

	password, err := readPassword(cfg.Password())
	if err != nil {
		log.Printf("read password: %v", err)
		return 1
	}

	engine, err := pace.NewEngine(pace.Config{
		Transport:      t,
		Slot:           slot,
		SecurityInfo:   info,
		CardAccess:     raw,
		ExtendedLength: cfg.Reader.ExtendedLength,
		LoggerFactory:  loggerFactory,
	})
	if err != nil {
		log.Printf("engine: %v", err)
		return 1
	}

	fmt.Printf("Protocol:      %s (parameter ID %d)\n", info.Info.Protocol, info.Info.ParameterID)
	result, err := engine.Execute(ctx, password, cfg.Password(), chat)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		printFailure(err)
		return 2
	}
	defer result.Destroy()

	fmt.Printf("KeyENC:        %X\n", result.KeyENC)
	fmt.Printf("KeyMAC:        %X\n", result.KeyMAC)
	fmt.Printf("IDPICC:        %X\n", result.IDPICC)
	fmt.Printf("Retry counter: %d\n", result.RetryCounter)
	if result.CurrentCAR != nil {
		fmt.Printf("CAR:           %s\n", result.CurrentCAR)
	}
	if result.PreviousCAR != nil {
		fmt.Printf("Previous CAR:  %s\n", result.PreviousCAR)
	}
	return 0
}

func openReader(ctx context.Context, rc config.ReaderConfig, loggerFactory logging.LoggerFactory) (apdu.Transport, []byte, func(), error) {
	if rc.Remote != "" {
		r, err := transport.DialRemote(ctx, rc.Remote, loggerFactory)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := r.PowerOn(ctx); err != nil {
			r.Close()
			return nil, nil, nil, err
		}
		return r, nil, func() { r.Close() }, nil
	}

	pcsc, err := transport.NewPCSC(transport.PCSCConfig{LoggerFactory: loggerFactory})
	if err != nil {
		return nil, nil, nil, err
	}
	reader := rc.PCSC
	if reader == "" {
		readers, err := pcsc.Readers()
		if err != nil {
			pcsc.Close()
			return nil, nil, nil, err
		}
		reader = readers[0]
	}
	fmt.Printf("Reader:        %s\n", reader)
	if err := pcsc.WaitForCard(ctx, reader); err != nil {
		pcsc.Close()
		return nil, nil, nil, err
	}
	return pcsc, []byte(reader), func() { pcsc.Close() }, nil
}

func readPassword(t pace.PasswordType) ([]byte, error) {
	if pw, ok := os.LookupEnv("EID_PASSWORD"); ok {
		return []byte(pw), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	if t == pace.PasswordMRZ {
		fmt.Fprint(os.Stderr, "MRZ information (document number, date of birth, date of expiry with check digits): ")
	} else {
		fmt.Fprintf(os.Stderr, "%s: ", t)
	}
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func printFailure(err error) {
	var perr *pace.Error
	if !errors.As(err, &perr) {
		fmt.Printf("PACE failed: %v\n", err)
		return
	}
	fmt.Printf("PACE failed:   %s\n", perr.Kind)
	fmt.Printf("Step:          %s\n", perr.Step)
	if perr.SW != 0 {
		fmt.Printf("Status word:   %04X\n", perr.SW)
	}
	if perr.RetryCounter != pace.RetryCounterUnknown {
		fmt.Printf("Retry counter: %d\n", perr.RetryCounter)
	}
	fmt.Printf("Error:         %v\n", perr)
}
