package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glycerine/simdb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "simdb",
	Short: "deterministic distributed-database simulator",
	Long: `simdb runs a seeded, fully deterministic simulation of a
small database cluster: virtual time, in-memory network with
latency/clogging/random failure, simulated disks, and a
policy-aware fault controller. Same seed, same trace.`,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "run a seeded demo scenario and dump the trace",
	PreRunE: bindConfig,
	RunE:    runScenario,
}

func init() {
	runCmd.PersistentFlags().Uint64("seed", 0, "random seed; everything follows from it")
	runCmd.PersistentFlags().Bool("buggify", false, "enable the bug-finding code paths")
	runCmd.PersistentFlags().Int("zones", 3, "number of zones (machines) in the cluster")
	runCmd.PersistentFlags().String("trace-out", "", "write the event trace here (.zst compresses)")
	runCmd.PersistentFlags().String("dot-out", "", "write the topology as graphviz DOT here")
	runCmd.PersistentFlags().Bool("metrics", false, "print prometheus counters when done")
	runCmd.PersistentFlags().Bool("kill", true, "kill one machine mid-run to exercise the fault controller")
	rootCmd.AddCommand(runCmd)
}

// bindConfig routes flags through viper so SIMDB_* env vars
// override them.
func bindConfig(cmd *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("SIMDB")
	viper.AutomaticEnv()
	return viper.BindPFlags(cmd.Flags())
}

func runScenario(cmd *cobra.Command, _ []string) error {
	cfg := simdb.NewConfig()
	cfg.Seed = viper.GetUint64("seed")
	cfg.Buggify = viper.GetBool("buggify")
	cfg.MaxCloggingLatency = 0.010
	cfg.TLogPolicy = &simdb.PolicyAcross{Count: 2, Attr: "zoneid", Under: &simdb.PolicyOne{}}
	cfg.StoragePolicy = &simdb.PolicyAcross{Count: 2, Attr: "zoneid", Under: &simdb.PolicyOne{}}

	s := simdb.NewSimulator(cfg)

	nZones := viper.GetInt("zones")
	if nZones < 2 {
		return fmt.Errorf("need at least 2 zones, got %v", nZones)
	}
	dataDir, err := os.MkdirTemp("", "simdb-run")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dataDir)

	var procs []*simdb.Process
	for i := 0; i < nZones; i++ {
		loc := simdb.LocalityData{
			ZoneID:     fmt.Sprintf("zone%d", i),
			DataHallID: fmt.Sprintf("hall%d", i%2),
			DCID:       "dc0",
			MachineID:  fmt.Sprintf("m%d", i),
		}
		p := s.NewProcess(fmt.Sprintf("storage%d", i),
			simdb.MakeIPv4(10, 0, byte(i), 1), 4500, loc,
			simdb.StorageClass, dataDir, dataDir)
		procs = append(procs, p)
	}

	// each process echoes one message to its ring neighbor,
	// and writes a small atomically-created data file.
	for i, p := range procs {
		p := p
		peer := procs[(i+1)%len(procs)]
		i := i
		s.Spawn(p, func() {
			c, err := s.Connect(peer.Address)
			if err != nil {
				return
			}
			msg := []byte(fmt.Sprintf("hello-from-%d", i))
			c.Write([][]byte{msg}, len(msg))
			c.Close()
		})
		s.Spawn(p, func() {
			c, err := p.Listener.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 64)
			for {
				n, err := c.Read(buf)
				if err != nil {
					break
				}
				if n == 0 {
					if err := c.OnReadable(); err != nil {
						break
					}
				}
			}
			c.Close()
		})
		s.Spawn(p, func() {
			name := filepath.Join(dataDir, fmt.Sprintf("data%d.sqlite", i))
			f, err := s.OpenFile(name,
				simdb.OPEN_ATOMIC_WRITE_AND_CREATE|simdb.OPEN_CREATE|simdb.OPEN_READWRITE,
				0644)
			if err != nil {
				return
			}
			f.Write(make([]byte, 4096), 0)
			f.Sync()
			free, total := s.GetDiskBytes(dataDir)
			s.Event("DemoDiskBytes", "Free", fmt.Sprint(free),
				"Total", fmt.Sprint(total))
		})
	}

	if viper.GetBool("kill") {
		s.Spawn(nil, func() {
			s.Delay(1.0, simdb.TaskDefaultDelay)
			s.ClogInterface(procs[0].Address.IP, 2.0, simdb.ClogDefault)
			s.Delay(1.0, simdb.TaskDefaultDelay)
			s.KillMachine(procs[1].Locality.ZoneID, simdb.KillInstantly, false, false)
		})
	}

	s.Run()

	fmt.Printf("quiescent at virtual time %.6fs; %d trace events\n",
		s.Now(), len(s.Trace().Events()))
	fmt.Println(s.GetSnapshot())

	if out := viper.GetString("trace-out"); out != "" {
		if err := s.Trace().WriteFile(out); err != nil {
			return err
		}
		fmt.Printf("trace written to %v\n", out)
	}
	if out := viper.GetString("dot-out"); out != "" {
		dot, err := s.TopologyDOT()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, []byte(dot), 0644); err != nil {
			return err
		}
		fmt.Printf("topology written to %v\n", out)
	}
	if viper.GetBool("metrics") {
		simdb.WriteMetrics(os.Stdout)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
