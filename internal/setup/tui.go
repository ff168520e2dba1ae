package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/fundbot/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const title = "FUNDBOT CONFIG WIZARD"

// answers are the raw wizard inputs.
type answers struct {
	accountID     string
	currency      string
	apiKey        string
	apiSecret     string
	minRate       string
	frontRun      string
	bookThreshold string
	maxPeriodRate string
	period        string
	size          string
	tickInterval  string
	ledger        string
	graphqlURL    string
	graphqlToken  string
	slackToken    string
	port          string
}

func defaultAnswers() answers {
	return answers{
		currency:      "USD",
		minRate:       "3.65",
		frontRun:      "0.01825",
		bookThreshold: "300000",
		maxPeriodRate: "100",
		period:        "2",
		size:          "1",
		tickInterval:  "10s",
		ledger:        config.LedgerSQLite,
		port:          "3000",
	}
}

func step(name string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render(name))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := defaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's put your idle funds to work.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ACCOUNT"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Ledger account id").
				Value(&a.accountID).
				Validate(notEmpty("account id")),
			huh.NewInput().
				Title("Currency").
				Description("Funding currency (e.g. USD)").
				Value(&a.currency).
				Validate(notEmpty("currency")),
			huh.NewInput().
				Title("Bitfinex API key").
				Value(&a.apiKey).
				Validate(notEmpty("api key")),
			huh.NewInput().
				Title("Bitfinex API secret").
				Value(&a.apiSecret).
				EchoMode(huh.EchoModePassword).
				Validate(notEmpty("api secret")),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: RATE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Minimum acceptable rate").
				Description("Annual percent, 0 disables the floor").
				Value(&a.minRate).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Front-run margin").
				Description("Annual percent subtracted from the wall rate").
				Value(&a.frontRun).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Book threshold").
				Description("Cumulative ask volume that marks a liquidity wall").
				Value(&a.bookThreshold).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Max period rate").
				Description("Above this annual rate offers use the longest period").
				Value(&a.maxPeriodRate).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Lending period").
				Description("Days, 2 to 30").
				Value(&a.period).
				Validate(validatePeriod),
			huh.NewInput().
				Title("Offer size").
				Description("Fraction of the available balance, (0,1]").
				Value(&a.size).
				Validate(validateSize),
			huh.NewInput().
				Title("Quote interval").
				Description("Duration string (e.g. 10s, 1m)").
				Value(&a.tickInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: LEDGER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should executed offers be recorded?").
				Options(
					huh.NewOption("Local SQLite file", config.LedgerSQLite),
					huh.NewOption("GraphQL endpoint", config.LedgerGraphQL),
				).
				Value(&a.ledger),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.ledger == config.LedgerGraphQL {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("GraphQL URL").
					Value(&a.graphqlURL).
					Validate(notEmpty("graphql url")),
				huh.NewInput().
					Title("GraphQL token").
					Value(&a.graphqlToken).
					EchoMode(huh.EchoModePassword),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	step("STEP 4: REMOTE CONTROL")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Slack verification token").
				Description("Leave empty to disable the /slash endpoint").
				Value(&a.slackToken).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("HTTP port").
				Value(&a.port).
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("must be a number")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Account: %s\nCurrency: %s\nMin rate: %s%%\nPeriod: %s days\nLedger: %s\nPort: %s\n",
		a.accountID, strings.ToUpper(a.currency), a.minRate, a.period, a.ledger, a.port,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := writeConfig(path, a.configTmp()); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bot...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func (a answers) configTmp() config.ConfigTmp {
	period, _ := strconv.Atoi(a.period)
	tick, _ := time.ParseDuration(a.tickInterval)

	tmp := config.ConfigTmp{
		AccountID:            a.accountID,
		Currency:             strings.ToUpper(a.currency),
		APIKey:               a.apiKey,
		APISecret:            a.apiSecret,
		MinAcceptableRateStr: a.minRate,
		FrontRunMarginStr:    a.frontRun,
		BookThresholdStr:     a.bookThreshold,
		MaxPeriodRateStr:     a.maxPeriodRate,
		LendingPeriod:        period,
		SizeFractionStr:      a.size,
		TickInterval:         tick,
		Ledger:               config.LedgerTmp{Backend: a.ledger},
		SlackToken:           a.slackToken,
		Port:                 a.port,
	}
	if a.ledger == config.LedgerGraphQL {
		tmp.Ledger.GraphQLURL = a.graphqlURL
		tmp.Ledger.Token = a.graphqlToken
	}
	return tmp
}

// writeConfig validates tmp and stores it as YAML. The file holds API
// credentials, so it is readable by the owner only.
func writeConfig(path string, tmp config.ConfigTmp) error {
	if _, err := tmp.Build(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func notEmpty(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		return nil
	}
}

func validateDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateSize(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be in (0, 1]")
	}
	return nil
}

func validatePeriod(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a whole number of days")
	}
	if n < 2 || n > 30 {
		return fmt.Errorf("must be between 2 and 30")
	}
	return nil
}
