// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/debug"
	"time"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/mlnoga/fishprep/internal/pipeline"
	"github.com/mlnoga/fishprep/internal/rest"
)

const version = "0.1.2"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var params    = flag.String("params", "", "load processing parameters from YAML `file`, explicit flags override")

var in        = flag.String("in", "", "input experiment `directory`")
var out       = flag.String("out", "3_processed/", "output `directory` for the processed experiment")
var clipMin   = flag.Float64("clipMin", 0, "lower clipping percentile for the primary view")
var clipMax   = flag.Float64("clipMax", 99.9, "upper clipping percentile for the primary view")
var levelMethod=flag.String("levelMethod", "", "intensity leveling, one of SCALE_BY_IMAGE, SCALE_BY_CHUNK, SCALE_SATURATED_BY_IMAGE, SCALE_SATURATED_BY_CHUNK")
var isVolume  = flag.Bool("isVolume", false, "clip and scale whole volumes instead of z-planes")
var regAux    = flag.String("regAux", "", "`view` carrying the registration beads, blank disables registration")
var chPerReg  = flag.Int64("chPerReg", 1, "image channels sharing one registration channel")
var backView  = flag.String("backView", "", "acquired background `view`, blank estimates the background instead")
var anchorView= flag.String("anchorView", "", "anchor `view` to process alongside the primary")
var highSigma = flag.Float64("highSigma", 0, "high pass filter sigma, 0=no op")
var deconSigma= flag.Float64("deconSigma", 0, "point spread function sigma for deconvolution, 0=no op")
var deconIter = flag.Int64("deconIter", 15, "Richardson-Lucy deconvolution iterations")
var lowSigma  = flag.Float64("lowSigma", 0, "low pass filter sigma, 0=no op")
var wthRad    = flag.Int64("wthRad", 0, "white tophat disk radius, 0=no op")
var rollingRad= flag.Int64("rollingRad", 3, "rolling ball background radius, 0=no op")
var matchHist = flag.Bool("matchHist", false, "match channel histograms to the dimmest volume")
var rescale   = flag.Bool("rescale", false, "skip clip and scale, deferring to a later rescaling run")
var keepGoing = flag.Bool("keepGoing", false, "skip failing fields of view instead of aborting")
var verify    = flag.Bool("verify", false, "verify tile checksums while loading")
var workers   = flag.Int64("workers", 0, "parallel workers, 0=all cores")
var preview   = flag.Bool("preview", false, "write a JPEG preview per field of view")
var lsEst     = flag.Int64("lsEst", 2, "location and scale estimators 0=mean/stddev, 1=median/MAD, 2=sigma-clipped sampled median and sampled Qn")

var port      = flag.Int64("port", 8080, "port for the REST service")
var root      = flag.String("root", "", "restrict REST processing to `directory`, blank allows all")
var chroot    = flag.String("chroot", "", "chroot into `directory` before serving, requires root")
var setuid    = flag.Int64("setuid", -1, "switch to unprivileged user `id` before serving, -1 leaves unchanged")

func main() {
	logWriter:=io.Writer(os.Stdout)
	debug.SetGCPercent(10)
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(logWriter, `Fishprep Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (process|serve|version|legal)

Commands:
  process Process all fields of view of an imaging experiment
  serve   Offer processing as a REST service
  legal   Show license and attribution information
  version Show version information
  help    Show this help message

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	// Enable CPU profiling if flagged
    if *cpuprofile != "" {
        f, err := os.Create(*cpuprofile)
        if err != nil {
            fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer f.Close()
        if err := pprof.StartCPUProfile(f); err != nil {
            fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer pprof.StopCPUProfile()
    }

    args:=flag.Args()
    if len(args)<1 {
    	flag.Usage()
    	return
    }
    if args[0]=="process" || args[0]=="serve" {
		fmt.Fprintf(logWriter, "Fishprep %s on %s with %d/%d cores and %d MiB physical memory\n",
			version, cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, totalMiBs)
	}

	// run actions
	var err error
    switch args[0] {
    case "process":
		var p *pipeline.Params
		if p, err=gatherParams(); err!=nil { break }

		// tee the run log into the output directory, like the processed data
		if err=os.MkdirAll(p.OutputDir, 0755); err!=nil { break }
		logName:=filepath.Join(p.OutputDir, time.Now().Format("20060102_1504")+"_img_processing.log")
		var logFile *os.File
		if logFile, err=os.Create(logName); err!=nil { break }
		defer logFile.Close()
		logWriter=io.MultiWriter(os.Stdout, logFile)

		err=pipeline.Run(p, logWriter)

    case "serve":
    	if err=rest.MakeSandbox(*chroot, int(*setuid)); err!=nil { break }
    	err=rest.Serve(version, int(*port), *root)

    case "legal":
    	cmdLegal(logWriter)

    case "version":
    	fmt.Fprintf(logWriter, "Version %s\n", version)

    case "help", "?":
    	flag.Usage()

    default:
    	fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
    	flag.Usage()
    	return
    }

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
    if *memprofile != "" {
        f, err := os.Create(*memprofile)
        if err != nil {
            fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer f.Close()
        runtime.GC() // get up-to-date statistics
        if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
            fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
            os.Exit(-1)
        }
    }

    if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// gatherParams merges the defaults, the optional parameter file and the
// explicitly set command line flags, in that order
func gatherParams() (*pipeline.Params, error) {
	p:=pipeline.NewParamsDefaults()
	if *params!="" {
		var err error
		if p, err=pipeline.LoadParams(*params); err!=nil { return nil, err }
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "in":          p.InputDir=*in
		case "out":         p.OutputDir=*out
		case "clipMin":     p.ClipMin=float32(*clipMin)
		case "clipMax":     p.ClipMax=float32(*clipMax)
		case "levelMethod": p.LevelMethod=*levelMethod
		case "isVolume":    p.IsVolume=*isVolume
		case "regAux":      p.RegisterAuxView=*regAux
		case "chPerReg":    p.ChPerReg=int32(*chPerReg)
		case "backView":    p.BackgroundView=*backView
		case "anchorView":  p.AnchorView=*anchorView
		case "highSigma":   p.HighSigma=float32(*highSigma)
		case "deconSigma":  p.DeconSigma=float32(*deconSigma)
		case "deconIter":   p.DeconIter=int32(*deconIter)
		case "lowSigma":    p.LowSigma=float32(*lowSigma)
		case "wthRad":      p.WthRad=int32(*wthRad)
		case "rollingRad":  p.RollingRad=int32(*rollingRad)
		case "matchHist":   p.MatchHist=*matchHist
		case "rescale":     p.Rescale=*rescale
		case "keepGoing":   p.KeepGoing=*keepGoing
		case "verify":      p.Verify=*verify
		case "workers":     p.NumWorkers=int(*workers)
		case "preview":     p.Preview=*preview
		case "lsEst":       p.LSEstimator=int(*lsEst)
		}
	})
	return p, nil
}
