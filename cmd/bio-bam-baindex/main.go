package main

// See doc.go for documentation.

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/baindex"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/vcontext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bamFlag         = flag.String("bam", "", "Coordinate-sorted BAM to index; local or s3:// path")
	sizesFlag       = flag.String("sizes", "", "Per-reference byte sizes of the record region, as comma-separated refID:bytes pairs")
	parallelismFlag = flag.Int("parallelism", 16, "Number of concurrently running indexing shards")
	metricsAddrFlag = flag.String("metrics-addr", "", "If set, serve prometheus metrics on this address while indexing")
)

func parseSizes(s string) ([]baindex.SequenceSize, error) {
	var sizes []baindex.SequenceSize
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed size entry %q, want refID:bytes", pair)
		}
		refID, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed refID in %q: %v", pair, err)
		}
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed byte size in %q: %v", pair, err)
		}
		sizes = append(sizes, baindex.SequenceSize{RefID: refID, Bytes: n})
	}
	return sizes, nil
}

func main() {
	shutdown := grail.Init()
	defer shutdown()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	if *bamFlag == "" || *sizesFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	sizes, err := parseSizes(*sizesFlag)
	if err != nil {
		log.Panicf("parsing -sizes: %v", err)
	}

	ctx := vcontext.Background()
	header, dataStart, err := baindex.ReadHeader(ctx, *bamFlag)
	if err != nil {
		log.Panicf("reading header of %s: %v", *bamFlag, err)
	}

	collector := &baindex.MetricsCollector{}
	var sink baindex.MetricsSink = collector
	if *metricsAddrFlag != "" {
		sink = newPromSink(collector)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddrFlag, nil); err != nil {
				log.Error.Printf("metrics server: %v", err)
			}
		}()
	}

	opts := baindex.WriteOpts{
		Header:    header,
		BAMPath:   *bamFlag,
		DataStart: dataStart,
		Sizes:     sizes,
		Metrics:   sink,
	}
	refs := header.Refs()
	results := make([]baindex.ShardResult, len(refs))
	err = traverse.Limit(*parallelismFlag).Each(len(refs), func(i int) error {
		res, err := baindex.WriteShardIndex(ctx, refs[i].Name(), opts)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		log.Panicf("indexing %s: %v", *bamFlag, err)
	}

	var noCoord uint64
	for _, res := range results {
		noCoord += res.NoCoordReads
		log.Printf("segment %s: %d records in %s", res.Path, res.Processed, res.Elapsed)
	}
	m := collector.Snapshot()
	log.Printf("indexed %d reads in %d shards, %d no-coordinate reads; shard seconds min/max %d/%d, shard reads min/max %d/%d",
		m.ReadsIndexed, m.ShardsFinished, noCoord,
		m.ShardSeconds.Min, m.ShardSeconds.Max, m.ShardReads.Min, m.ShardReads.Max)
}
