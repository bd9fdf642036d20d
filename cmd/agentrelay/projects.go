package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaydev/agentrelay/internal/config"
)

// runProjectsCommand implements the "agentrelay projects export|import"
// subcommands: a flat dump/load of the projects.* config section as
// its own YAML document, so an operator can hand-edit or version a
// project list without touching the rest of config.yaml.
func runProjectsCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: agentrelay projects <export|import> [flags]")
		return 2
	}

	switch args[0] {
	case "export":
		return runProjectsExport(args[1:])
	case "import":
		return runProjectsImport(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown projects subcommand %q\n", args[0])
		return 2
	}
}

func runProjectsExport(args []string) int {
	fs := flag.NewFlagSet("projects export", flag.ContinueOnError)
	configPath := fs.String("config", "", "directory containing config.yaml")
	out := fs.String("out", "", "output path, defaults to stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	data, err := yaml.Marshal(map[string]interface{}{"projects": cfg.Projects})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal projects: %v\n", err)
		return 1
	}

	if *out == "" {
		_, _ = os.Stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *out, err)
		return 1
	}
	fmt.Printf("wrote %d project(s) to %s\n", len(cfg.Projects), *out)
	return 0
}

// projectsDocument is the on-disk shape for import/export: a bare
// "projects:" map, matching the section embedded in config.yaml.
type projectsDocument struct {
	Projects map[string]config.ProjectConfig `yaml:"projects"`
}

func runProjectsImport(args []string) int {
	fs := flag.NewFlagSet("projects import", flag.ContinueOnError)
	configPath := fs.String("config", "", "directory containing config.yaml")
	in := fs.String("in", "", "input path (required)")
	merge := fs.Bool("merge", false, "merge into existing projects instead of replacing them")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(os.Stderr, "projects import: -in is required")
		return 2
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *in, err)
		return 1
	}

	var doc projectsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", *in, err)
		return 1
	}

	resolvedConfigPath := *configPath
	if resolvedConfigPath == "" {
		resolvedConfigPath = "."
	}
	configFile := resolvedConfigPath + "/config.yaml"

	projects := doc.Projects
	if *merge {
		existing, err := config.LoadWithPath(*configPath)
		if err == nil {
			for id, p := range existing.Projects {
				if _, ok := projects[id]; !ok {
					projects[id] = p
				}
			}
		}
	}

	// Preserve every other top-level section of config.yaml (plane,
	// agent, logging): load it as a bare map rather than going through
	// config.Config, so fields this binary doesn't know about survive
	// the round trip too.
	doc2 := map[string]interface{}{}
	if existing, err := os.ReadFile(configFile); err == nil {
		_ = yaml.Unmarshal(existing, &doc2)
	}
	doc2["projects"] = projects

	out, err := yaml.Marshal(doc2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return 1
	}
	if err := os.WriteFile(configFile, out, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", configFile, err)
		return 1
	}

	fmt.Printf("imported %d project(s) into %s\n", len(projects), configFile)
	return 0
}
