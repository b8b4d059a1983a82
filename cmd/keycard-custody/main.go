package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-custody/custody"
	"github.com/status-im/keycard-custody/store"
	"github.com/status-im/keycard-custody/store/sqlstore"
)

type commandFunc func(*custody.Service, keyStore) error

type keyStore interface {
	custody.PairingStore
	custody.KeyStore
	Keys() ([]custody.KeycardKey, error)
}

var (
	logger = log.New("package", "keycard-custody/cmd")

	commands map[string]commandFunc

	flagCommand   = flag.String("c", "", "command")
	flagStore     = flag.String("s", defaultStorePath(), "store path, a .db or .sqlite file selects the SQLite store")
	flagLogLevel  = flag.String("l", "", `Log level, one of: "ERROR", "WARN", "INFO", "DEBUG", and "TRACE"`)
	flagReader    = flag.String("r", "", "reader name, required when more than one reader is connected")
	flagComponent = flag.Uint("i", 0, "address index of the derived key, m/44'/60'/0'/0/<i>")
)

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "keycard-custody.json"
	}

	return filepath.Join(dir, "keycard-custody", "store.json")
}

func initLogger() {
	if *flagLogLevel == "" {
		*flagLogLevel = "info"
	}

	level, err := log.LvlFromString(strings.ToLower(*flagLogLevel))
	if err != nil {
		stdlog.Fatal(err)
	}

	handler := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
	filteredHandler := log.LvlFilterHandler(level, handler)
	log.Root().SetHandler(filteredHandler)
}

func init() {
	commands = map[string]commandFunc{
		"info":    commandInfo,
		"init":    commandInit,
		"pair":    commandPair,
		"sign":    commandSign,
		"unblock": commandUnblock,
		"status":  commandStatus,
		"unpair":  commandUnpair,
		"forget":  commandForget,
		"keys":    commandKeys,
		"secrets": commandSecrets,
	}
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\nUsage: keycard-custody -c COMMAND [FLAGS]\n\nValid commands:\n\n")
	for _, name := range names {
		fmt.Printf("- %s\n", name)
	}
	fmt.Print("\nFlags:\n\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func fail(msg string, ctx ...interface{}) {
	logger.Error(msg, ctx...)
	os.Exit(1)
}

func openStore(path string) (keyStore, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		s, err := sqlstore.Open(path)
		if err != nil {
			return nil, nil, err
		}

		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("error closing store", "error", err)
			}
		}, nil
	default:
		s, err := store.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}

		return s, func() {}, nil
	}
}

func main() {
	flag.Parse()
	initLogger()

	if *flagCommand == "" {
		logger.Error("you must specify a command")
		usage()
	}

	f, ok := commands[*flagCommand]
	if !ok {
		logger.Error("unknown command", "command", *flagCommand)
		usage()
	}

	s, closeStore, err := openStore(*flagStore)
	if err != nil {
		fail("error opening store", "path", *flagStore, "error", err)
	}
	defer closeStore()

	service, err := custody.NewService(custody.Config{
		Transport: newPCSCTransport(*flagReader),
		Pairings:  s,
		Keys:      s,
	})
	if err != nil {
		fail("error creating service", "error", err)
	}

	if err = f(service, s); err != nil {
		if !custody.IsSilent(err) {
			logger.Error("error executing command", "command", *flagCommand, "error", err)
		}

		fmt.Println(describe(err))
		closeStore()
		os.Exit(1)
	}
}

// describe turns a custody error into a message for the user.
func describe(err error) string {
	var e *custody.Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("error: %v", err)
	}

	switch e.Kind {
	case custody.KindInvalidPIN:
		return fmt.Sprintf("wrong PIN, %d attempts left", e.RemainingAttempts)
	case custody.KindInvalidPUK:
		return fmt.Sprintf("wrong PUK, %d attempts left", e.RemainingAttempts)
	case custody.KindKeycardBlocked:
		return "the PIN is blocked, run the unblock command with the PUK"
	case custody.KindKeycardLost:
		return "the PUK is blocked, the keycard can't be used anymore"
	case custody.KindUnknownKeycard:
		return "this is not the keycard holding the key"
	case custody.KindUnknownMasterKey:
		return "the keycard has been reset since the key was derived"
	case custody.KindKeycardPairingBecameInvalid, custody.KindKeycardNotPaired:
		return "the keycard is not paired anymore, run the pair command"
	case custody.KindUserCancelled:
		return "cancelled"
	case custody.KindTimeout:
		return "timed out waiting for the keycard"
	default:
		return e.Kind.String()
	}
}

func commandInfo(service *custody.Service, _ keyStore) error {
	info, err := service.Info()
	if err != nil {
		return err
	}

	fmt.Printf("Initialized: %+v\n", info.Initialized)
	fmt.Printf("InstanceUID: 0x%x\n", info.InstanceUID)
	fmt.Printf("KeyUID: 0x%x\n", info.MasterKeyUID)
	fmt.Printf("Free pairing slots: %d\n", info.FreePairingSlots)

	return nil
}

func commandInit(service *custody.Service, _ keyStore) error {
	secrets, err := service.GenerateCredentials()
	if err != nil {
		return err
	}

	fmt.Printf("PIN %s\n", secrets.Pin())
	fmt.Printf("PUK %s\n", secrets.Puk())
	fmt.Printf("Pairing password: %s\n", secrets.PairingPass())
	fmt.Println("tap the keycard to initialize it...")

	address, err := service.Initialize(secrets.Pin(), secrets.Puk(), secrets.PairingPass(), uint32(*flagComponent))
	if err != nil {
		return err
	}

	fmt.Printf("Address %s\n", address.Hex())

	return nil
}

func commandPair(service *custody.Service, _ keyStore) error {
	pairingPass := askSecret("Pairing password")
	pin := askSecret("PIN")

	address, err := service.Pair(pairingPass, pin, uint32(*flagComponent))
	if err != nil {
		return err
	}

	fmt.Printf("Address %s\n", address.Hex())

	return nil
}

func commandSign(service *custody.Service, _ keyStore) error {
	address := askAddress("Address")
	hash := askHex("Hash")
	pin := askSecret("PIN")

	sig, err := service.Sign(hash, address, pin)
	if err != nil {
		return err
	}

	fmt.Printf("Signature 0x%s\n", hex.EncodeToString(sig))

	return nil
}

func commandUnblock(service *custody.Service, _ keyStore) error {
	address := askAddress("Address")
	puk := askSecret("PUK")
	pin := askSecret("New PIN")

	if err := service.Unblock(puk, pin, address); err != nil {
		return err
	}

	fmt.Println("PIN changed")

	return nil
}

func commandStatus(service *custody.Service, _ keyStore) error {
	status, err := service.Status()
	if err != nil {
		return err
	}

	fmt.Printf("PIN retries: %d\n", status.PINRetries)
	fmt.Printf("PUK retries: %d\n", status.PUKRetries)
	fmt.Printf("Master key: %+v\n", status.HasMasterKey)

	return nil
}

func commandUnpair(service *custody.Service, _ keyStore) error {
	if err := service.Unpair(askSecret("PIN")); err != nil {
		return err
	}

	fmt.Println("pairing slot released, keys are kept")

	return nil
}

func commandForget(service *custody.Service, _ keyStore) error {
	return service.ForgetKey(askAddress("Address"))
}

func commandKeys(_ *custody.Service, s keyStore) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}

	for _, key := range keys {
		fmt.Printf("%s %s instance 0x%x\n", key.Address.Hex(), key.KeyPath, key.InstanceUID)
	}

	return nil
}

func commandSecrets(service *custody.Service, _ keyStore) error {
	secrets, err := service.GenerateCredentials()
	if err != nil {
		return err
	}

	fmt.Printf("PIN %s\n", secrets.Pin())
	fmt.Printf("PUK %s\n", secrets.Puk())
	fmt.Printf("Pairing password: %s\n", secrets.PairingPass())
	fmt.Printf("Pairing token: 0x%x\n", secrets.PairingToken())

	return nil
}

func askAddress(description string) common.Address {
	s := ask(description)
	if !common.IsHexAddress(s) {
		fail("invalid address", "address", s)
	}

	return common.HexToAddress(s)
}
