// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// palaver-tail follows Matrix rooms from the terminal. It logs in (or
// reuses a saved session), runs the sync loop, and prints each room
// message to stdout as it arrives — one line per message, or JSON
// lines with --json. Diagnostics go to stderr as structured logs.
//
// The session and sync cursor persist in a mode-0600 file under
// ~/.config/palaver/, so a restart resumes where the previous run
// stopped instead of replaying the initial sync.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/palaver-im/palaver/lib/ref"
	"github.com/palaver-im/palaver/matrix"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		homeserver   string
		username     string
		passwordFile string
		sessionPath  string
		cacheFlag    string
		timeoutSecs  int
		roomFlags    []string
		logLevelFlag string
		jsonOutput   bool
	)

	flagSet := pflag.NewFlagSet("palaver-tail", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $PALAVER_CONFIG)")
	flagSet.StringVar(&homeserver, "homeserver", "", "Matrix homeserver URL")
	flagSet.StringVar(&username, "user", "", "localpart or full user ID to log in as (omit to reuse the saved session)")
	flagSet.StringVar(&passwordFile, "password-file", "", "path to a file containing the password, or - to prompt (default: prompt)")
	flagSet.StringVar(&sessionPath, "session-file", "", "where to persist the session and sync cursor")
	flagSet.StringVar(&cacheFlag, "cache", "", "room state retention: all, some, or none (default all)")
	flagSet.IntVar(&timeoutSecs, "timeout", 0, "sync long-poll timeout in seconds (default 30)")
	flagSet.StringSliceVar(&roomFlags, "room", nil, "only print messages from this room ID or alias (repeatable)")
	flagSet.StringVar(&logLevelFlag, "log-level", "", "stderr log level: debug, info, warn, error (default info)")
	flagSet.BoolVar(&jsonOutput, "json", false, "print messages as JSON lines instead of text")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Flags win over the config file; defaults fill what remains.
	if homeserver == "" {
		homeserver = config.Homeserver
	}
	if sessionPath == "" {
		sessionPath = config.SessionFile
	}
	if sessionPath == "" {
		sessionPath, err = defaultSessionPath()
		if err != nil {
			return err
		}
	}
	if cacheFlag == "" {
		cacheFlag = config.Cache
	}
	if timeoutSecs == 0 {
		timeoutSecs = config.TimeoutSeconds
	}
	if timeoutSecs == 0 {
		timeoutSecs = 30
	}
	if len(roomFlags) == 0 {
		roomFlags = config.Rooms
	}
	if logLevelFlag == "" {
		logLevelFlag = config.LogLevel
	}

	logger, err := newLogger(logLevelFlag)
	if err != nil {
		return err
	}

	cacheLevel, err := parseCacheLevel(cacheFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	saved, err := loadSessionFile(sessionPath)
	if err != nil {
		return err
	}
	if saved != nil && homeserver == "" {
		homeserver = saved.Homeserver
	}
	if homeserver == "" {
		return fmt.Errorf("no homeserver configured: pass --homeserver or set it in the config file")
	}

	client, err := matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	session, since, err := establishSession(ctx, client, logger, sessionParams{
		saved:        saved,
		sessionPath:  sessionPath,
		homeserver:   homeserver,
		username:     username,
		passwordFile: passwordFile,
	})
	if err != nil {
		return err
	}

	only, err := resolveRoomFilter(ctx, session, roomFlags)
	if err != nil {
		return err
	}

	syncer := matrix.NewSyncer(session, matrix.SyncerConfig{
		CacheLevel: cacheLevel,
		Since:      since,
		Logger:     logger,
	})

	printer := &messagePrinter{json: jsonOutput, only: only}
	syncer.OnTimeline(ref.TypeRoomMessage, printer.print)
	syncer.OnInvite(func(roomID ref.RoomID, inviteState []matrix.Event) {
		logger.Info("invited to room", "room_id", roomID)
	})
	syncer.OnLeave(func(roomID ref.RoomID, delta matrix.LeftRoomDelta) {
		logger.Info("left room", "room_id", roomID)
	})

	logger.Info("tailing rooms",
		"homeserver", homeserver,
		"user_id", session.UserID(),
		"rooms", len(only),
	)

	err = syncer.ListenForever(ctx, matrix.ListenOptions{
		Timeout: time.Duration(timeoutSecs) * time.Second,
		OnError: func(err error) {
			logger.Error("sync error", "error", err)
		},
	})

	// Persist the cursor regardless of how the loop ended so the next
	// run resumes rather than replaying.
	if saveErr := saveSessionFile(sessionPath, &SessionFile{
		Homeserver:  homeserver,
		UserID:      session.UserID(),
		AccessToken: session.AccessToken(),
		DeviceID:    session.DeviceID(),
		Since:       syncer.Since(),
	}); saveErr != nil {
		logger.Error("failed to save session", "error", saveErr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		slogLevel = slog.LevelInfo
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})), nil
}

func parseCacheLevel(value string) (matrix.CacheLevel, error) {
	switch strings.ToLower(value) {
	case "", "all":
		return matrix.CacheAll, nil
	case "some":
		return matrix.CacheSome, nil
	case "none":
		return matrix.CacheNone, nil
	default:
		return 0, fmt.Errorf("unknown cache level %q: want all, some, or none", value)
	}
}

type sessionParams struct {
	saved        *SessionFile
	sessionPath  string
	homeserver   string
	username     string
	passwordFile string
}

// establishSession reuses the saved session when possible, otherwise
// logs in with a prompted (or file-provided) password and saves the
// result. Returns the session and the persisted sync cursor.
func establishSession(ctx context.Context, client *matrix.Client, logger *slog.Logger, params sessionParams) (*matrix.Session, string, error) {
	if params.username == "" {
		if params.saved == nil {
			return nil, "", fmt.Errorf("no saved session at %s: pass --user to log in", params.sessionPath)
		}
		session, err := resumeSession(client, params.saved)
		if err != nil {
			return nil, "", err
		}
		// Cheap token check so an expired session fails here with a
		// clear message instead of mid-sync.
		if _, err := session.WhoAmI(ctx); err != nil {
			return nil, "", fmt.Errorf("saved session rejected (delete %s and log in again): %w", params.sessionPath, err)
		}
		logger.Info("resumed session", "user_id", session.UserID())
		return session, params.saved.Since, nil
	}

	password, err := readPassword(params.passwordFile)
	if err != nil {
		return nil, "", err
	}
	session, err := client.Login(ctx, params.username, password)
	if err != nil {
		return nil, "", err
	}

	if err := saveSessionFile(params.sessionPath, &SessionFile{
		Homeserver:  params.homeserver,
		UserID:      session.UserID(),
		AccessToken: session.AccessToken(),
		DeviceID:    session.DeviceID(),
	}); err != nil {
		return nil, "", err
	}
	logger.Info("logged in and saved session", "user_id", session.UserID(), "path", params.sessionPath)
	return session, "", nil
}

func readPassword(passwordFile string) (string, error) {
	if passwordFile != "" && passwordFile != "-" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return "", fmt.Errorf("stdin is not a terminal; use --password-file")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(passwordBytes), nil
}

// resolveRoomFilter turns --room values into a room ID set, resolving
// aliases through the directory. Nil means no filtering.
func resolveRoomFilter(ctx context.Context, session *matrix.Session, rooms []string) (map[ref.RoomID]bool, error) {
	if len(rooms) == 0 {
		return nil, nil
	}
	only := make(map[ref.RoomID]bool, len(rooms))
	for _, raw := range rooms {
		if alias, err := ref.ParseRoomAlias(raw); err == nil {
			roomID, err := session.ResolveAlias(ctx, alias)
			if err != nil {
				return nil, err
			}
			only[roomID] = true
			continue
		}
		roomID, err := ref.ParseRoomID(raw)
		if err != nil {
			return nil, fmt.Errorf("--room %q is neither a room ID nor an alias", raw)
		}
		only[roomID] = true
	}
	return only, nil
}

// messagePrinter writes room messages to stdout.
type messagePrinter struct {
	json bool
	only map[ref.RoomID]bool
}

type messageLine struct {
	Timestamp time.Time  `json:"timestamp"`
	RoomID    ref.RoomID `json:"room_id"`
	Room      string     `json:"room,omitempty"`
	Sender    ref.UserID `json:"sender"`
	Display   string     `json:"display,omitempty"`
	MsgType   string     `json:"msgtype"`
	Body      string     `json:"body"`
}

func (p *messagePrinter) print(room *matrix.Room, event matrix.Event) {
	if p.only != nil && !p.only[room.ID()] {
		return
	}
	body, _ := event.Content["body"].(string)
	msgType, _ := event.Content["msgtype"].(string)
	line := messageLine{
		Timestamp: time.UnixMilli(event.OriginServerTS),
		RoomID:    room.ID(),
		Room:      room.Name(),
		Sender:    event.Sender,
		Display:   room.DisplayNameOf(event.Sender),
		MsgType:   msgType,
		Body:      body,
	}

	if p.json {
		encoded, err := json.Marshal(line)
		if err != nil {
			return
		}
		fmt.Println(string(encoded))
		return
	}

	roomLabel := line.Room
	if roomLabel == "" {
		roomLabel = line.RoomID.String()
	}
	fmt.Printf("%s [%s] <%s> %s\n",
		line.Timestamp.Format("15:04:05"),
		roomLabel,
		line.Display,
		line.Body,
	)
}
