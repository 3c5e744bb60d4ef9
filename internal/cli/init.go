package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var initReinit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively scaffold a converge.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(specPath); err == nil && !initReinit {
			fmt.Printf("%s already exists. Run with --reinit to overwrite.\n", specPath)
			return nil
		}

		fmt.Println("Welcome to converge init. Let's describe the desired state of this host.")
		fmt.Println()

		var specName string
		templateKey := "custom"
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Spec name").
				Description("Identifies this host profile in snapshots and run history.").
				Value(&specName).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("spec name cannot be empty")
					}
					if strings.ContainsAny(s, "/ ") {
						return fmt.Errorf("spec name must not contain slashes or spaces")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Template").
				Description("Pre-fills packages, services and config files for a common role.").
				Options(
					huh.NewOption("Custom (empty skeleton)", "custom"),
					huh.NewOption("DHCP server (Kea)", "dhcp"),
					huh.NewOption("Static site (nginx)", "nginx"),
					huh.NewOption("DNS cache (dnsmasq)", "dnsmasq"),
				).
				Value(&templateKey),
		)).Run(); err != nil {
			return err
		}

		tmpl := specTemplates[templateKey]

		var extraPackages string
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Additional packages").
				Description("Comma separated, e.g. curl,htop. Leave empty for none.").
				Value(&extraPackages),
		)).Run(); err != nil {
			return err
		}

		doc := buildSpecYAML(specName, tmpl, splitList(extraPackages))
		if err := os.WriteFile(specPath, []byte(doc), 0644); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", specPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  1. Review the unit definitions and adjust paths and dependencies")
		fmt.Println("  2. Run: converge plan")
		fmt.Println("  3. Run: converge apply")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initReinit, "reinit", false, "Overwrite an existing spec file")
	rootCmd.AddCommand(initCmd)
}

type specTemplate struct {
	units string // indented unit block, ready to splice under units:
}

var specTemplates = map[string]specTemplate{
	"custom": {units: `  # example:
  #   kind: package
`},
	"dhcp": {units: `  kea-dhcp4-server:
    kind: package
  kea-config:
    kind: file
    path: /etc/kea/kea-dhcp4.conf
    source: kea-dhcp4.conf
    mode: "0644"
    requires: [kea-dhcp4-server]
  kea-dhcp4:
    kind: service
    enabled: true
    state: started
    requires: [kea-dhcp4-server, kea-config]
    restart_on: [kea-config]
    pause_during: [kea-config]
`},
	"nginx": {units: `  nginx:
    kind: package
  site-config:
    kind: file
    path: /etc/nginx/conf.d/site.conf
    source: site.conf
    mode: "0644"
    requires: [nginx]
  nginx-service:
    kind: service
    enabled: true
    state: started
    requires: [nginx, site-config]
    restart_on: [site-config]
`},
	"dnsmasq": {units: `  dnsmasq:
    kind: package
  dnsmasq-config:
    kind: file
    path: /etc/dnsmasq.d/local.conf
    source: dnsmasq-local.conf
    mode: "0644"
    requires: [dnsmasq]
  dnsmasq-service:
    kind: service
    enabled: true
    state: started
    requires: [dnsmasq, dnsmasq-config]
    restart_on: [dnsmasq-config]
`},
}

func buildSpecYAML(name string, tmpl specTemplate, extraPackages []string) string {
	var sb strings.Builder
	sb.WriteString("name: " + name + "\n\n")
	sb.WriteString("units:\n")
	sb.WriteString(tmpl.units)
	for _, p := range extraPackages {
		sb.WriteString("  " + p + ":\n")
		sb.WriteString("    kind: package\n")
	}
	return sb.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
