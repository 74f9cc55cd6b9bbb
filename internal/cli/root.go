package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/betbot/botvisor/pkg/client"
)

const (
	DefaultServer  = "http://127.0.0.1:8088"
	DefaultTimeout = 30 * time.Second
)

// Settings 是 botctl 的最终配置：默认值 < ~/.botctl.yaml < BOTCTL_* < 命令行
type Settings struct {
	Server       string        `mapstructure:"server"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTAlgorithm string        `mapstructure:"jwt_algorithm"`
	JSON         bool          `mapstructure:"json"`
}

type app struct {
	cfgFile  string
	v        *viper.Viper
	settings Settings
	out      io.Writer
}

// NewRootCommand builds the botctl command tree.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "botctl",
		Short: "botctl - command line client for the botvisor control plane",
		Long: `botctl talks to a running botvisor server.

It can register bots, start/stop/restart them, show their status and
read or follow their logs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.botctl.yaml)")
	pf.String("server", DefaultServer, "botvisor server base URL")
	pf.String("token", "", "bearer token")
	pf.Duration("timeout", DefaultTimeout, "request timeout")
	pf.Bool("json", false, "print raw JSON")
	_ = a.v.BindPFlag("server", pf.Lookup("server"))
	_ = a.v.BindPFlag("token", pf.Lookup("token"))
	_ = a.v.BindPFlag("timeout", pf.Lookup("timeout"))
	_ = a.v.BindPFlag("json", pf.Lookup("json"))

	root.SetOut(out)
	root.AddCommand(
		a.listCmd(),
		a.createCmd(),
		a.getCmd(),
		a.statusCmd(),
		a.deleteCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.restartCmd(),
		a.logsCmd(),
		a.tokenCmd(),
	)
	return root
}

// Execute runs botctl against os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout).Execute()
}

func (a *app) load(cmd *cobra.Command) error {
	v := a.v
	v.SetDefault("server", DefaultServer)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("jwt_algorithm", "HS256")

	v.SetEnvPrefix("BOTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// 与服务端共用同一个密钥变量
	_ = v.BindEnv("jwt_secret", "BOTCTL_JWT_SECRET", "BOTVISOR_JWT_SECRET")
	_ = v.BindEnv("jwt_algorithm", "BOTCTL_JWT_ALGORITHM", "BOTVISOR_JWT_ALGORITHM")

	v.SetConfigType("yaml")
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".botctl.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&a.settings); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if a.settings.Timeout <= 0 {
		a.settings.Timeout = DefaultTimeout
	}
	return nil
}

func (a *app) client() *client.Client {
	return client.New(a.settings.Server, a.settings.Token, a.settings.Timeout)
}
