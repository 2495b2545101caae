package commands

import (
	"context"
	"net/url"
	"os"
	"time"

	"consoleharvest/lib/browser"
	"consoleharvest/lib/captcha"
	"consoleharvest/lib/configutil"
	"consoleharvest/lib/recordstore"
	"consoleharvest/lib/scrapers/console"
	"consoleharvest/lib/serviceutil"
	"consoleharvest/services/harvest"

	"github.com/spf13/cobra"
)

var configPath *string

func init() {
	configPath = runCmd.Flags().String("config", "harvester.json5", "Path to the harvester configuration file.")
	rootCmd.AddCommand(runCmd)
}

type predicateConfig struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (p predicateConfig) toRule() console.TagPredicate {
	return console.TagPredicate{ID: p.ID, Name: p.Name}
}

type sourceConfig struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
}

type Config struct {
	Console struct {
		BaseURL       string   `json:"base_url"`
		SessionCookie string   `json:"session_cookie"`
		XSRFCookie    string   `json:"xsrf_cookie"`
		LoginPath     string   `json:"login_path"`
		HomePath      string   `json:"home_path"`
		ScopePath     string   `json:"scope_path"`
		ScopeID       string   `json:"scope_id"`
		TokenPaths    []string `json:"token_paths"`
		WarmupPath    string   `json:"warmup_path"`
		EnrichWorkers int      `json:"enrich_workers"`
		MaxPages      int      `json:"max_pages"`
	} `json:"console"`

	Credential struct {
		Identity   string `json:"identity"`
		Secret     string `json:"secret"`
		CaptchaKey string `json:"captcha_key"`
	} `json:"credential"`

	Captcha struct {
		BaseURL string `json:"base_url"`
	} `json:"captcha"`

	Browser struct {
		Headless  bool `json:"headless"`
		NoSandbox bool `json:"no_sandbox"`
	} `json:"browser"`

	Sources       []sourceConfig    `json:"sources"`
	IdentityField string            `json:"identity_field"`
	MergePolicy   map[string]string `json:"merge_policy"`
	TagPath       string            `json:"tag_path"`
	TagRules      struct {
		Blocked    predicateConfig `json:"blocked"`
		Suspended  predicateConfig `json:"suspended"`
		Delinquent predicateConfig `json:"delinquent"`
		Priority   predicateConfig `json:"priority"`
		Selection  predicateConfig `json:"selection"`
	} `json:"tag_rules"`

	StorePath string               `json:"store_path"`
	Email     harvest.EmailOptions `json:"email"`
}

var runCmd = &cobra.Command{
	Use:   "run [--config <path/to/harvester.json5>]",
	Short: "Runs one full harvest against the configured console.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := configutil.ReadConfig[Config](*configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		ctx := cmd.Context()

		chrome, err := browser.NewChrome(ctx, browser.ChromeOptions{
			Headless:  config.Browser.Headless,
			NoSandbox: config.Browser.NoSandbox,
		})
		if err != nil {
			serviceutil.Fatal("failed to start browser", err)
		}
		defer chrome.Close(context.Background())

		solver := captcha.NewClient(captcha.ClientOptions{
			BaseURL: config.Captcha.BaseURL,
			APIKey:  config.Credential.CaptchaKey,
		})

		client, err := console.NewClient(ctx, console.Options{
			BaseURL:       config.Console.BaseURL,
			SessionCookie: config.Console.SessionCookie,
			XSRFCookie:    config.Console.XSRFCookie,
			LoginPath:     config.Console.LoginPath,
			HomePath:      config.Console.HomePath,
			ScopePath:     config.Console.ScopePath,
			ScopeID:       config.Console.ScopeID,
			TokenPaths:    config.Console.TokenPaths,
			WarmupPath:    config.Console.WarmupPath,
			EnrichWorkers: config.Console.EnrichWorkers,
			MaxPages:      config.Console.MaxPages,
		}, chrome, solver)
		if err != nil {
			serviceutil.Fatal("failed to build console client", err)
		}

		var store *recordstore.Store
		if config.StorePath != "" {
			store, err = recordstore.Open(ctx, config.StorePath)
			if err != nil {
				serviceutil.Fatal("failed to open record store", err)
			}
			defer store.Close()
		}

		var notifier harvest.Notifier
		if config.Email.Host != "" {
			notifier = harvest.NewEmailNotifier(config.Email)
		}

		service := harvest.NewService(
			client,
			store,
			harvest.TableReport{Out: os.Stdout},
			notifier,
			harvest.Options{
				Sources:       toSources(config.Sources),
				IdentityField: config.IdentityField,
				MergePolicy:   toMergePolicy(config.MergePolicy),
				TagPath:       config.TagPath,
				TagRules: console.TagRules{
					Blocked:    config.TagRules.Blocked.toRule(),
					Suspended:  config.TagRules.Suspended.toRule(),
					Delinquent: config.TagRules.Delinquent.toRule(),
					Priority:   config.TagRules.Priority.toRule(),
					Selection:  config.TagRules.Selection.toRule(),
				},
			},
		)

		runCtx, cancel := context.WithTimeout(ctx, time.Minute*30)
		defer cancel()

		err = service.Run(runCtx, console.Credential{
			Identity:   config.Credential.Identity,
			Secret:     config.Credential.Secret,
			CaptchaKey: config.Credential.CaptchaKey,
		})
		if err != nil {
			serviceutil.Fatal("harvest failed", err)
		}
	},
}

func toSources(configs []sourceConfig) []harvest.SourceConfig {
	out := make([]harvest.SourceConfig, len(configs))
	for i, src := range configs {
		params := url.Values{}
		for k, v := range src.Params {
			params.Set(k, v)
		}
		out[i] = harvest.SourceConfig{Endpoint: src.Endpoint, Params: params}
	}
	return out
}

func toMergePolicy(config map[string]string) console.MergePolicy {
	policy := console.MergePolicy{}
	for field, kind := range config {
		switch kind {
		case "flag":
			policy[field] = console.FieldFlag
		case "timestamp":
			policy[field] = console.FieldTimestamp
		default:
			policy[field] = console.FieldText
		}
	}
	return policy
}
