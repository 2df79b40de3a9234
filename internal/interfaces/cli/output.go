package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/turtacn/MedPlan-Intelligence/internal/application/prescription"
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/interaction"
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/explainability"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/nudge"
)

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	return table
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint("=== "+title+" ==="))
}

func colorizeSeverity(s interaction.Severity) string {
	switch s {
	case interaction.SeveritySevere:
		return color.RedString(strings.ToUpper(string(s)))
	case interaction.SeverityModerate:
		return color.YellowString(strings.ToUpper(string(s)))
	case interaction.SeverityMinor:
		return color.GreenString(strings.ToUpper(string(s)))
	default:
		return strings.ToUpper(string(s))
	}
}

func colorizeConfidence(c float64) string {
	s := fmt.Sprintf("%.0f%%", c*100)
	switch {
	case c >= 0.85:
		return color.GreenString(s)
	case c >= 0.6:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func timingString(t medication.TimingBuckets) string {
	if t.IsEmpty() {
		return "-"
	}
	return fmt.Sprintf("%d-%d-%d-%d", t.Morning, t.Afternoon, t.Evening, t.Night)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// renderResponse prints a pipeline response as tables.
func renderResponse(w io.Writer, resp *prescription.Response) {
	fmt.Fprintf(w, "Request: %s\n", resp.RequestID)
	if resp.Error != nil {
		fmt.Fprintf(w, "%s %s [%s]\n", color.RedString("Failed:"), resp.Error.Message, resp.Error.Code)
		return
	}
	plan := resp.Plan
	if plan == nil {
		return
	}

	status := color.GreenString("ready")
	if plan.NeedsConfirmation {
		status = color.YellowString("needs confirmation")
	}
	fmt.Fprintf(w, "Source: %s  Confidence: %s  Status: %s\n",
		plan.Source, colorizeConfidence(plan.OverallConfidence), status)

	if len(plan.Medications) > 0 {
		section(w, "Medications")
		renderMedications(w, plan.Medications)
	}
	if len(plan.ClarificationQuestions) > 0 {
		section(w, "Please confirm")
		for _, q := range plan.ClarificationQuestions {
			line := "- " + q.Question
			if len(q.Suggestions) > 0 {
				line += " (" + strings.Join(q.Suggestions, ", ") + ")"
			}
			fmt.Fprintln(w, color.YellowString(line))
		}
	}
	if len(resp.Interactions) > 0 {
		section(w, "Interactions")
		renderInteractions(w, resp.Interactions)
	}
	if len(resp.Cards) > 0 {
		section(w, "Why this plan")
		renderCards(w, resp.Cards)
	}
	if len(resp.Nudges) > 0 {
		section(w, "Reminders")
		renderNudges(w, resp.Nudges)
	}
	for _, warn := range resp.Warnings {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("Warning:"), warn)
	}
}

func renderMedications(w io.Writer, meds []medication.MedicationRecord) {
	table := newTable(w, []string{"#", "Name", "Strength", "Form", "Frequency", "Timing", "Duration", "Food", "Confidence"})
	for i, m := range meds {
		name := m.Name
		if m.NeedsConfirmation {
			name += " *"
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			name,
			orDash(m.Strength),
			orDash(m.Form),
			orDash(m.NormalizedFrequency),
			timingString(m.Timing),
			orDash(m.Duration),
			orDash(m.FoodInstruction),
			colorizeConfidence(m.Confidence),
		})
	}
	table.Render()
}

func renderInteractions(w io.Writer, results []interaction.Result) {
	table := newTable(w, []string{"Severity", "Kind", "Medication", "With", "Recommendation"})
	for _, r := range results {
		table.Append([]string{
			colorizeSeverity(r.Severity),
			string(r.Kind),
			r.DrugA,
			r.DrugB,
			orDash(r.Recommendation),
		})
	}
	table.Render()
}

func renderCards(w io.Writer, cards []explainability.Card) {
	for _, c := range cards {
		fmt.Fprintf(w, "%s\n", color.New(color.Bold).Sprint(c.MedicationName))
		for _, line := range []string{c.WhyThisPlan.Schedule, c.WhyThisPlan.TimingRationale, c.WhyThisPlan.CourseCompletion} {
			if line != "" {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
		if c.Evidence.OriginalTextSnippet != "" {
			fmt.Fprintf(w, "  From prescription: %q\n", c.Evidence.OriginalTextSnippet)
		}
		fmt.Fprintf(w, "  Used for: %s\n", c.DrugDetails.Indications)
		if c.Uncertainty.NeedsConfirmation {
			fields := make([]string, len(c.Uncertainty.UncertainFields))
			for i, f := range c.Uncertainty.UncertainFields {
				fields[i] = string(f)
			}
			fmt.Fprintf(w, "  %s %s\n", color.YellowString("Please check:"), strings.Join(fields, ", "))
		}
	}
}

func renderNudges(w io.Writer, nudges []nudge.Nudge) {
	for _, n := range nudges {
		fmt.Fprintf(w, "- %s\n", n.Message)
	}
}

// renderReport prints an interaction report.
func renderReport(w io.Writer, report *interaction.Report) {
	all := report.All()
	if len(all) == 0 {
		fmt.Fprintln(w, color.GreenString("No interactions found."))
		return
	}
	renderInteractions(w, all)
	for _, r := range all {
		if r.Description != "" {
			fmt.Fprintf(w, "- %s + %s: %s\n", r.DrugA, r.DrugB, r.Description)
		}
	}
}
