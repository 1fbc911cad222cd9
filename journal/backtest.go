package journal

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"text/template"
	"time"
)

// BacktestRun mirrors the backtest_runs table.
type BacktestRun struct {
	RunID    string
	Created  time.Time
	Symbol   string
	Interval string
	Dataset  string
	Strategy string
	ExitMode string
	Config   []byte // strategy and exit config as YAML

	RiskFraction float64
	SlippageBps  float64

	Start time.Time
	End   time.Time

	Trades int
	Wins   int
	Losses int

	StartEquity float64
	EndEquity   float64

	NetPL        float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDD        float64
	MaxDDPct     float64
	Sharpe       float64
	Sortino      float64
	CAGR         float64

	Notes []string
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
	"pf": func(x float64) string {
		if math.IsInf(x, 1) {
			return "inf"
		}
		return fmt.Sprintf("%.2f", x)
	},
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// RenderOrg renders the run as an org-mode section.
func (v *BacktestRun) RenderOrg() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := backtestOrg.Execute(buf, v); err != nil {
		return nil, fmt.Errorf("journal: render backtest org: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteOrg writes RenderOrg's output to path.
func (v *BacktestRun) WriteOrg(path string) error {
	b, err := v.RenderOrg()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

const BacktestOrgTemplate = `
* BACKTEST: {{.Strategy}} {{.Symbol}} {{if .Interval}}{{.Interval}}{{else}}(interval?){{end}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:STRATEGY:    {{.Strategy}}
:EXIT_MODE:   {{.ExitMode}}
:INTERVAL:    {{if .Interval}}{{.Interval}}{{else}}(interval?){{end}}
:SYMBOL:      {{.Symbol}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_EQ:    {{printf "%.2f" .StartEquity}}
:END_EQ:      {{printf "%.2f" .EndEquity}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" (mul100 .ReturnPct)}}
:MAX_DD:      {{printf "%.2f" .MaxDD}}
:MAX_DD_PCT:  {{printf "%.2f" (mul100 .MaxDDPct)}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:PROFIT_FAC:  {{pf .ProfitFactor}}
:SHARPE:      {{printf "%.2f" .Sharpe}}
:SORTINO:     {{printf "%.2f" .Sortino}}
:CAGR:        {{printf "%.2f" (mul100 .CAGR)}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Parameters
| Parameter        | Value |
|------------------+-------|
| Risk per Trade % | {{printf "%.2f" (mul100 .RiskFraction)}} |
| Slippage (bps)   | {{printf "%.1f" .SlippageBps}} |
{{- if .Config }}

#+begin_src yaml
{{printf "%s" .Config}}#+end_src
{{- end }}

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPL}}*
- Return:           *{{printf "%.2f" (mul100 .ReturnPct)}}%*
- Max Drawdown:     *{{printf "%.2f" .MaxDD}} ({{printf "%.2f" (mul100 .MaxDDPct)}}%)*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*
- Profit Factor:    *{{pf .ProfitFactor}}*
- Sharpe / Sortino: *{{printf "%.2f" .Sharpe}} / {{printf "%.2f" .Sortino}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |

{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
