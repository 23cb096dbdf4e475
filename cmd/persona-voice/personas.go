package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/tts"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the configured personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := persona.Load(cfg.PersonaDir, cfg.Voices)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDISPLAY\tVOICE\tMODEL\tTEMP\tTONE")
		for _, name := range registry.Names() {
			p := registry.Lookup(name)
			voice := p.Voice
			if voice == "" {
				voice = tts.ResolveElevenLabsVoice(tts.DefaultPersonaVoices[name]) + " (default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\n", p.Name, p.DisplayName, voice, p.Model, p.Temperature, p.Tone)
		}
		return w.Flush()
	},
}
