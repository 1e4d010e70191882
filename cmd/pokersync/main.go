// Command pokersync joins an estimation session from the terminal. It is a
// thin presentation shim over the coordination engine: it invokes the
// engine's operations and renders its snapshots, nothing more.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pokersync/pokersync/internal/names"
	"github.com/pokersync/pokersync/internal/prefs"
	"github.com/pokersync/pokersync/internal/room"
	"github.com/pokersync/pokersync/internal/room/state"
	"github.com/pokersync/pokersync/internal/transport"
	"github.com/pokersync/pokersync/internal/transport/natsbus"
	"github.com/pokersync/pokersync/internal/transport/relayws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	session := flag.String("session", "", "session id (generated when empty)")
	name := flag.String("name", "", "display name (falls back to stored preference)")
	relayURL := flag.String("relay", getEnv("POKERSYNC_RELAY_URL", "ws://localhost:4444"), "relay server URL")
	natsURL := flag.String("nats", getEnv("POKERSYNC_NATS_URL", ""), "use NATS transport at this URL instead of the relay")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	store := openPrefs()

	sessionID := *session
	if sessionID == "" {
		sessionID = names.GenerateSessionID()
		fmt.Printf("created session %s\n", sessionID)
	}

	displayName := resolveName(*name, store)
	userID := resolveIdentity(sessionID, store)

	cfg := room.Config{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
	}

	dial := func(events transport.Events) (transport.Transport, error) {
		if *natsURL != "" {
			return natsbus.Connect(natsbus.Config{
				URL:       *natsURL,
				SessionID: sessionID,
				ActorID:   userID,
			}, events)
		}
		return relayws.Dial(relayws.Config{
			URL:       *relayURL,
			SessionID: sessionID,
		}, events)
	}

	r, err := room.Open(cfg, dial)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join session")
	}
	defer r.Close()

	unsubscribe := r.Subscribe(render)
	defer unsubscribe()

	fmt.Printf("joined as %s. commands: start, vote <value>, reveal, end, name <name>, quit\n", displayName)
	fmt.Printf("deck: %s\n", strings.Join(state.Deck, " "))

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "":
		case "start":
			r.StartRound()
		case "vote":
			if arg == "" {
				fmt.Println("usage: vote <value>")
				continue
			}
			r.CastVote(arg)
		case "reveal":
			r.RevealVotes()
		case "end":
			r.EndRound()
		case "name":
			if arg == "" {
				fmt.Println("usage: name <name>")
				continue
			}
			r.SetDisplayName(arg)
			if store != nil {
				if err := store.SetDisplayName(arg); err != nil {
					log.Warn().Err(err).Msg("failed to save display name")
				}
			}
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

// render prints a compact view of the session after every change.
func render(snap room.Snapshot) {
	status := "online"
	if !snap.Connected {
		status = "offline"
	}

	var members []string
	for _, u := range snap.Users {
		tag := u.Name
		if u.IsLeader {
			tag += "*"
		}
		if !u.IsOnline {
			tag += " (away)"
		}
		members = append(members, tag)
	}

	fmt.Printf("[%s] %s\n", status, strings.Join(members, ", "))
	switch {
	case snap.CurrentRound == nil:
		fmt.Println("no active round")
	case snap.CurrentRound.VotesRevealed:
		fmt.Printf("revealed: %v\n", snap.Tally)
	default:
		fmt.Printf("voting: %d vote(s) in\n", len(snap.Votes))
	}
}

func openPrefs() *prefs.Store {
	path, err := prefs.DefaultPath()
	if err != nil {
		log.Warn().Err(err).Msg("preferences unavailable")
		return nil
	}
	return prefs.Open(path)
}

// resolveName picks the display name: explicit flag, stored
// preference, generated placeholder.
func resolveName(flagName string, store *prefs.Store) string {
	if flagName != "" {
		if store != nil {
			if err := store.SetDisplayName(flagName); err != nil {
				log.Warn().Err(err).Msg("failed to save display name")
			}
		}
		return flagName
	}
	if store != nil {
		if stored := store.DisplayName(); stored != "" {
			return stored
		}
	}
	return names.DefaultDisplayName()
}

// resolveIdentity reuses the participant id previously assigned for this
// session, so a rejoin resumes the same participant.
func resolveIdentity(sessionID string, store *prefs.Store) string {
	if store != nil {
		if id := store.Identity(sessionID); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if store != nil {
		if err := store.SetIdentity(sessionID, id); err != nil {
			log.Warn().Err(err).Msg("failed to save session identity")
		}
	}
	return id
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
