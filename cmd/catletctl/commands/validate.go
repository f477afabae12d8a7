package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/config"
	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/policy"
)

type validationReport struct {
	Machine string   `json:"machine"`
	Valid   bool     `json:"valid"`
	Fodder  int      `json:"fodder"`
	Errors  []string `json:"errors,omitempty"`

	// Findings are non-blocking policy violations.
	Findings []string `json:"findings,omitempty"`
}

func newValidateCommand(a *app) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "validate [machine...]",
		Short: "Validate the catlets file",
		Long: `Validate the catlets file and resolve the creation request of each
selected machine.

This command checks:
  - YAML or CUE syntax
  - Schema conformance, reported with file positions
  - Fodder merge and spec rules of the resolver
  - Admission policies, built-in and from policy.paths
  - With --remote, the compute service's own validation`,
		Example: `  # Validate catlets.yaml in the current directory
  catletctl validate

  # Validate a CUE directory, including remote checks
  catletctl validate -f ./catlets --remote`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			file, err := a.loadFile(ctx)
			if err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					for _, ve := range verrs {
						fmt.Fprintln(cmd.ErrOrStderr(), ve.String())
					}
				}
				return err
			}

			names := args
			if len(names) == 0 {
				names = file.Names()
			}

			var api engine.ComputeAPI
			if remote {
				client, err := a.newClient()
				if err != nil {
					return err
				}
				api = client
			}

			policies, err := a.newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			resolver := engine.NewResolver()
			reports := make([]validationReport, 0, len(names))
			failed := 0
			for _, name := range names {
				report := validationReport{Machine: name, Valid: true}

				req, err := resolve(file, resolver, name)
				if err == nil && policies != nil {
					err = checkPolicies(cmd, policies, name, req, &report)
				}
				if err == nil && api != nil {
					err = validateRemote(cmd, api, req, &report)
				}
				if err != nil {
					report.Valid = false
					report.Errors = append(report.Errors, err.Error())
				}
				if req != nil {
					report.Fodder = len(req.Fodder)
				}
				if !report.Valid {
					failed++
				}
				reports = append(reports, report)
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					if r.Valid {
						fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (%d fodder items)\n", r.Machine, r.Fodder)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n", r.Machine)
					for _, e := range r.Errors {
						fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", e)
					}
				}
			}

			if failed > 0 {
				return engine.NewConfigurationError(fmt.Sprintf("%d of %d machines are invalid", failed, len(reports)), nil)
			}
			log.Debug().Int("machines", len(reports)).Msg("Catlets file is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "also validate with the compute service")
	return cmd
}

// resolve builds the creation request of a machine. Generated keys are not
// needed to check the request and are left out.
func resolve(file *config.File, resolver *engine.Resolver, name string) (*engine.CreateRequest, error) {
	m, err := file.Merged(name)
	if err != nil {
		return nil, err
	}
	t, err := m.Target()
	if err != nil {
		return nil, err
	}
	return resolver.ResolveTarget(t)
}

// checkPolicies records blocking violations as errors and the rest as
// findings.
func checkPolicies(cmd *cobra.Command, policies *policy.Engine, name string, req *engine.CreateRequest, report *validationReport) error {
	result, err := policies.Evaluate(cmd.Context(), policy.NewInput(name, engine.ActionUp, req))
	if err != nil {
		return err
	}
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			report.Valid = false
			report.Errors = append(report.Errors, v.String())
			continue
		}
		report.Findings = append(report.Findings, v.String())
	}
	return nil
}

func validateRemote(cmd *cobra.Command, api engine.ComputeAPI, req *engine.CreateRequest, report *validationReport) error {
	result, err := api.ValidateSpec(cmd.Context(), req)
	if err != nil {
		return err
	}
	if !result.Valid {
		report.Valid = false
		for _, issue := range result.Errors {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", issue.Member, issue.Message))
		}
	}
	return nil
}
