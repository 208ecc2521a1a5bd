package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/directory"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var seedDB string

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "load users, conversations and streams into the sqlite directory",
	Long: `Seed writes the records of a YAML file into the sqlite directory, for
local development and demos. Existing records with the same ids are updated.

users:
  - {id: u1, username: alice}
conversations:
  - {id: c1, participants: [u1, u2]}
streams:
  - {id: s1, owner: u1, title: launch, status: live, access: subscriber}
subscriptions:
  - {subscriber: u2, creator: u1, expires: "2030-01-01T00:00:00Z"}
purchases:
  - {user: u3, stream: s1}
`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := seedDB
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.Directory.Path
		}
		f, err := loadSeed(args[0])
		if err != nil {
			return err
		}
		store, err := directory.OpenSQLite(path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := f.apply(cmd.Context(), store); err != nil {
			return err
		}
		log.Info().Str("module", "seed").Str("db", path).Int("users", len(f.Users)).
			Int("conversations", len(f.Conversations)).Int("streams", len(f.Streams)).Msg("seeded")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDB, "db", "", "sqlite file (default: directory.path from config)")
}

type seedUser struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Avatar   string `mapstructure:"avatar"`
	Status   string `mapstructure:"status"`
}

type seedConversation struct {
	ID           string   `mapstructure:"id"`
	Participants []string `mapstructure:"participants"`
}

type seedStream struct {
	ID     string `mapstructure:"id"`
	Owner  string `mapstructure:"owner"`
	Title  string `mapstructure:"title"`
	Status string `mapstructure:"status"`
	Access string `mapstructure:"access"`
}

type seedSubscription struct {
	Subscriber string `mapstructure:"subscriber"`
	Creator    string `mapstructure:"creator"`
	Expires    string `mapstructure:"expires"`
}

type seedPurchase struct {
	User   string `mapstructure:"user"`
	Stream string `mapstructure:"stream"`
}

type seedFile struct {
	Users         []seedUser         `mapstructure:"users"`
	Conversations []seedConversation `mapstructure:"conversations"`
	Streams       []seedStream       `mapstructure:"streams"`
	Subscriptions []seedSubscription `mapstructure:"subscriptions"`
	Purchases     []seedPurchase     `mapstructure:"purchases"`
}

func loadSeed(fileName string) (*seedFile, error) {
	v := viper.New()
	v.SetConfigFile(fileName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

func (f *seedFile) apply(ctx context.Context, store *directory.SQLite) error {
	for _, u := range f.Users {
		uid, err := domain.ParseUserID(u.ID)
		if err != nil {
			return fmt.Errorf("user %q: %w", u.ID, err)
		}
		err = store.PutUser(ctx, domain.User{
			ID:       uid,
			Username: u.Username,
			Avatar:   u.Avatar,
			Status:   domain.UserStatus(u.Status),
		})
		if err != nil {
			return err
		}
	}
	for _, c := range f.Conversations {
		participants := make([]domain.UserID, 0, len(c.Participants))
		for _, p := range c.Participants {
			participants = append(participants, domain.UserID(p))
		}
		if err := store.PutConversation(ctx, c.ID, participants...); err != nil {
			return err
		}
	}
	for _, s := range f.Streams {
		status := domain.StreamStatus(s.Status)
		if status == "" {
			status = domain.StreamLive
		}
		err := store.PutStream(ctx, domain.Stream{
			ID:      s.ID,
			OwnerID: domain.UserID(s.Owner),
			Title:   s.Title,
			Status:  status,
			Access:  domain.AccessType(s.Access),
		})
		if err != nil {
			return err
		}
	}
	for _, s := range f.Subscriptions {
		exp, err := expiry(s.Expires)
		if err != nil {
			return fmt.Errorf("subscription %s/%s: %w", s.Subscriber, s.Creator, err)
		}
		if err := store.Subscribe(ctx, domain.UserID(s.Subscriber), domain.UserID(s.Creator), exp); err != nil {
			return err
		}
	}
	for _, p := range f.Purchases {
		if err := store.Purchase(ctx, domain.UserID(p.User), p.Stream); err != nil {
			return err
		}
	}
	return nil
}

// expiry parses an RFC 3339 timestamp; empty means no expiry.
func expiry(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
