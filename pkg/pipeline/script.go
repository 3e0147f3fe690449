// Batch script rendering, one template per scheduler dialect.

package pipeline

import (
	"bytes"
	"fmt"
	"text/template"
)

const torqueTemplate = `#!/bin/bash
#PBS -N {{.JobName}}
#PBS -q {{.Queue}}
#PBS -l nodes=1:ppn=1
{{- if gt .ArraySize 0}}
#PBS -t 1-{{.ArraySize}}
{{- end}}
{{- range .DependLines}}
#PBS -W depend={{.}}
{{- end}}
{{- if .MailAtEnd}}
#PBS -m e
{{- end}}

cd {{.WorkDir}}
{{range .Payload}}{{.}}
{{end}}`

const slurmTemplate = `#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --partition={{.Queue}}
#SBATCH --nodes=1 --ntasks=1
{{- if gt .ArraySize 0}}
#SBATCH --array=1-{{.ArraySize}}
{{- end}}
{{- range .DependLines}}
#SBATCH --dependency={{.}}
{{- end}}
{{- if .MailAtEnd}}
#SBATCH --mail-type=END
{{- end}}

cd {{.WorkDir}}
{{range .Payload}}{{.}}
{{end}}`

var scriptTemplates = map[string]*template.Template{
	"torque": template.Must(template.New("torque").Parse(torqueTemplate)),
	"slurm":  template.Must(template.New("slurm").Parse(slurmTemplate)),
}

// arrayIndexVar is the environment variable carrying the array task
// index inside a running job.
var arrayIndexVar = map[string]string{
	"torque": "$PBS_ARRAYID",
	"slurm":  "$SLURM_ARRAY_TASK_ID",
}

// ArrayIndexVar returns the scheduler's array-index variable for use in
// payload lines.
func ArrayIndexVar(scheduler string) string {
	return arrayIndexVar[scheduler]
}

type scriptContext struct {
	JobName     string
	Queue       string
	ArraySize   int
	DependLines []string
	MailAtEnd   bool
	WorkDir     string
	Payload     []string
}

// dependLines formats the stage's dependencies grouped by kind, e.g.
// afterok:1234:1235. Dependencies on unsubmitted stages (dry-run skips,
// failures) are left out; Blocked() has already gated those.
func dependLines(s *Stage) []string {
	byKind := map[DepKind][]string{}
	var kinds []DepKind

	for _, d := range s.Deps {
		if d.On.JobID == "" {
			continue
		}
		if _, ok := byKind[d.Kind]; !ok {
			kinds = append(kinds, d.Kind)
		}
		byKind[d.Kind] = append(byKind[d.Kind], d.On.JobID)
	}

	var lines []string
	for _, k := range kinds {
		line := string(k)
		for _, id := range byKind[k] {
			line += ":" + id
		}
		lines = append(lines, line)
	}
	return lines
}

// RenderScript produces the batch script text for one stage.
func RenderScript(scheduler, workDir, jobName string, s *Stage) (string, error) {
	tmpl, ok := scriptTemplates[scheduler]
	if !ok {
		return "", fmt.Errorf("unknown scheduler %q", scheduler)
	}

	ctx := scriptContext{
		JobName:     jobName,
		Queue:       s.Queue,
		ArraySize:   s.ArraySize,
		DependLines: dependLines(s),
		MailAtEnd:   s.MailAtEnd,
		WorkDir:     workDir,
		Payload:     s.Payload,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}
