package bench

import (
	"fmt"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sugawarayuuta/sonnet"

	cmdUtil "github.com/gradflow/gradflow/cmd/util"
	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/transport/inproc"
	"github.com/gradflow/gradflow/server"
)

var BenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run an in-process push/pull benchmark",
	Long:  `Drive N simulated workers through push/pull steps against an in-process aggregation server and report latency statistics.`,
	RunE:  run,
}

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "bench-workers"
	BenchCmd.PersistentFlags().Int(key, 2, cmdUtil.WrapString("Number of simulated workers"))

	key = "bench-keys"
	BenchCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Number of tensor keys"))

	key = "bench-elements"
	BenchCmd.PersistentFlags().Int(key, 64*1024, cmdUtil.WrapString("Elements per float32 tensor"))

	key = "bench-steps"
	BenchCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Push/pull steps to run"))

	key = "bench-async"
	BenchCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Benchmark asynchronous mode instead of sync"))
}

// timerStats is the JSON shape of one latency timer.
type timerStats struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// summary is the JSON report printed after the run.
type summary struct {
	Workers   int        `json:"workers"`
	Keys      int        `json:"keys"`
	Elements  int        `json:"elements"`
	Steps     int        `json:"steps"`
	Sync      bool       `json:"sync"`
	ElapsedMs float64    `json:"elapsed_ms"`
	Push      timerStats `json:"push"`
	Pull      timerStats `json:"pull"`
}

func run(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	var (
		workers  = viper.GetInt("bench-workers")
		keys     = viper.GetInt("bench-keys")
		elements = viper.GetInt("bench-elements")
		steps    = viper.GetInt("bench-steps")
		async    = viper.GetBool("bench-async")
	)

	cfg := &common.ServerConfig{
		NumWorkers:        workers,
		EngineThreads:     4,
		SyncMode:          !async,
		LoadBalanceFactor: 1,
		LogLevel:          "warn",
	}

	tr := inproc.New()
	srv := server.New(cfg, tr)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	var (
		pushTimer = gometrics.NewTimer()
		pullTimer = gometrics.NewTimer()
		cmdTag    = common.PackCommand(common.DefaultPushPull, tensor.Float32)
		start     = time.Now()
		wg        sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(sender int) {
			defer wg.Done()

			payload := make([]byte, elements*4)
			vals := tensor.Float32s(payload)
			for i := range vals {
				vals[i] = float32(sender + i)
			}

			push := func(key uint64) error {
				begin := time.Now()
				_, err := tr.Do(
					common.KVMeta{Cmd: cmdTag, Push: true, Sender: sender},
					common.KVPairs{Keys: []uint64{key}, Vals: payload, Lens: []int32{int32(len(payload))}},
				)
				pushTimer.UpdateSince(begin)
				return err
			}
			pull := func(key uint64) error {
				begin := time.Now()
				_, err := tr.Do(
					common.KVMeta{Cmd: cmdTag, Push: false, Sender: sender},
					common.KVPairs{Keys: []uint64{key}},
				)
				pullTimer.UpdateSince(begin)
				return err
			}

			// init round: the first push per key only allocates
			for k := 0; k < keys; k++ {
				if err := push(uint64(k)); err != nil {
					fmt.Println("init push failed:", err)
					return
				}
			}

			for s := 0; s < steps; s++ {
				for k := 0; k < keys; k++ {
					if err := push(uint64(k)); err != nil {
						fmt.Println("push failed:", err)
						return
					}
				}
				for k := 0; k < keys; k++ {
					if err := pull(uint64(k)); err != nil {
						fmt.Println("pull failed:", err)
						return
					}
				}
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)

	tr.Close()
	<-done

	report := summary{
		Workers:   workers,
		Keys:      keys,
		Elements:  elements,
		Steps:     steps,
		Sync:      !async,
		ElapsedMs: float64(elapsed.Microseconds()) / 1000,
		Push:      snapshot(pushTimer),
		Pull:      snapshot(pullTimer),
	}

	out, err := sonnet.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// snapshot converts a go-metrics timer into the report shape.
func snapshot(t gometrics.Timer) timerStats {
	s := t.Snapshot()
	toMs := func(ns float64) float64 { return ns / float64(time.Millisecond) }
	return timerStats{
		Count:  s.Count(),
		MeanMs: toMs(s.Mean()),
		P50Ms:  toMs(s.Percentile(0.5)),
		P99Ms:  toMs(s.Percentile(0.99)),
		MaxMs:  toMs(float64(s.Max())),
	}
}
