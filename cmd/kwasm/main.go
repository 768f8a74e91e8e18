// Command kwasm runs and inspects WebAssembly modules against the KPIO
// runtime core with its WASI Preview-1 host surface.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kpio-os/wasmcore"
	"github.com/kpio-os/wasmcore/wasm"
	"github.com/kpio-os/wasmcore/wasm/binary"
)

const version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Guest exit codes propagate as-is; everything else is an error.
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.code))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type exitCodeError struct{ code uint32 }

func (e *exitCodeError) Error() string { return "exit code " + strconv.Itoa(int(e.code)) }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kwasm",
		Short:         "KPIO WebAssembly runtime core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newInspectCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var dirs []string
	var envs []string
	var entry string
	var hostLogging bool

	cmd := &cobra.Command{
		Use:   "run [flags] module.wasm [args...]",
		Short: "Instantiate a module and call its entry point",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			cfg := wasmcore.NewConfig().
				WithArgs(append([]string{args[0]}, args[1:]...)...).
				WithStdin(os.Stdin).
				WithStdout(os.Stdout).
				WithStderr(os.Stderr)
			for _, d := range dirs {
				cfg = cfg.WithPreopen(d)
			}
			for _, e := range envs {
				key, value, ok := strings.Cut(e, "=")
				if !ok {
					return fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", e)
				}
				cfg = cfg.WithEnv(key, value)
			}
			if hostLogging {
				logger := logrus.New()
				logger.SetLevel(logrus.DebugLevel)
				logger.SetOutput(cmd.ErrOrStderr())
				cfg = cfg.WithHostLogging(logger)
			}

			rt := wasmcore.NewRuntime(cfg)
			m, err := rt.CompileModule(bin)
			if err != nil {
				return err
			}
			ctx, err := rt.InstantiateModule(m)
			if err != nil {
				if code, ok := wasm.ExitCodeOf(err); ok && code != 0 {
					return &exitCodeError{code: code}
				} else if ok {
					return nil
				}
				return err
			}
			if _, err := ctx.CallExport(entry); err != nil {
				if code, ok := wasm.ExitCodeOf(err); ok {
					if code != 0 {
						return &exitCodeError{code: code}
					}
					return nil
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&dirs, "dir", nil, "directory to preopen into the guest (repeatable)")
	cmd.Flags().StringArrayVar(&envs, "env", nil, "environment variable as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&entry, "entry", "_start", "exported function to call")
	cmd.Flags().BoolVar(&hostLogging, "hostlogging", false, "log every host call")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect module.wasm",
		Short: "Summarize a module's sections, imports, and exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, err := binary.DecodeModule(bin)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if m.ModuleName != "" {
				fmt.Fprintf(out, "module: %s\n", m.ModuleName)
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Section", "Entries"})
			rows := [][2]string{
				{"type", strconv.Itoa(len(m.TypeSection))},
				{"import", strconv.Itoa(len(m.ImportSection))},
				{"function", strconv.Itoa(len(m.FunctionSection))},
				{"table", strconv.Itoa(len(m.TableSection))},
				{"memory", strconv.Itoa(len(m.MemorySection))},
				{"global", strconv.Itoa(len(m.GlobalSection))},
				{"export", strconv.Itoa(len(m.ExportSection))},
				{"element", strconv.Itoa(len(m.ElementSection))},
				{"code", strconv.Itoa(len(m.CodeSection))},
				{"data", strconv.Itoa(len(m.DataSection))},
			}
			for _, row := range rows {
				table.Append([]string{row[0], row[1]})
			}
			table.Render()

			for _, imp := range m.ImportSection {
				fmt.Fprintf(out, "import %s: %s.%s\n", wasm.ExternTypeName(imp.Type), imp.Module, imp.Name)
			}
			for _, exp := range m.ExportSection {
				fmt.Fprintf(out, "export %s: %s (index %d)\n", wasm.ExternTypeName(exp.Type), exp.Name, exp.Index)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runtime version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "kwasm", version)
		},
	}
}
