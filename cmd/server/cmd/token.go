package cmd

import (
	"errors"
	"fmt"

	"github.com/dkeye/Pulse/internal/auth"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue a bearer token for connecting to the hub",
	Long: `Set the token parameters with environment variables, for example

export PULSE_TOKEN_SECRET=somesecret
export PULSE_TOKEN_ISSUER=pulse-dev
export PULSE_TOKEN_USER=u1
export PULSE_TOKEN_USERNAME=alice
export PULSE_TOKEN_LIFETIME=1h
bearer=$(pulse token)
`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		v.SetEnvPrefix("PULSE_TOKEN")
		v.AutomaticEnv()
		v.SetDefault("lifetime", "1h")

		bearer, err := issueToken(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bearer)
		return nil
	},
}

func issueToken(v *viper.Viper) (string, error) {
	secret := v.GetString("secret")
	if secret == "" {
		return "", errors.New("PULSE_TOKEN_SECRET not set")
	}
	uid, err := domain.ParseUserID(v.GetString("user"))
	if err != nil {
		return "", fmt.Errorf("PULSE_TOKEN_USER: %w", err)
	}
	lifetime := v.GetDuration("lifetime")
	if lifetime <= 0 {
		return "", errors.New("PULSE_TOKEN_LIFETIME must be positive")
	}
	return auth.Issue(secret, v.GetString("issuer"), uid, v.GetString("username"), lifetime)
}
