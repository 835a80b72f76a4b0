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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/mlnoga/fishprep/internal/pipeline"
)


// Serve runs the REST service on the given port. Processing is restricted to
// directories below root; an empty root allows any path
func Serve(version string, port int, root string) error {
	return newRouter(version, root).Run(fmt.Sprintf(":%d", port))
}

func newRouter(version, root string) *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",     getPing)
			v1.GET ("/info",     getInfo(version))
			v1.GET ("/defaults", getDefaults)
			v1.POST("/process",  postProcess(root))
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func getInfo(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":  version,
			"cpu":      cpuid.CPU.BrandName,
			"cores":    cpuid.CPU.PhysicalCores,
			"threads":  cpuid.CPU.LogicalCores,
			"memoryMB": memory.TotalMemory()/1024/1024,
		})
	}
}

func getDefaults(c *gin.Context) {
	c.JSON(200, gin.H{
		"params":    pipeline.NewParamsDefaults(),
		"operators": pipeline.DefaultChain(),
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

func postProcess(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logWriter := c.Writer
		args:=*pipeline.NewParamsDefaults()
		if err:=c.ShouldBind(&args); err!=nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
			return
		}
		if !isPathAllowed(root, args.InputDir) || !isPathAllowed(root, args.OutputDir) {
			c.JSON(http.StatusForbidden, gin.H{"error": "directory outside the served root" } )
			return
		}

		header := logWriter.Header()
		header.Set("Content-Type", "text/plain")
		logWriter.WriteHeader(http.StatusOK)

		job:=uuid.New()
		fmt.Fprintf(logWriter, "Job %s started\n", job)
		if err:=printArgs(logWriter, "Arguments:\n", "\n", &args); err!=nil {
			fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
			return
		}

		if err:=pipeline.Run(&args, logWriter); err!=nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		} else {
			fmt.Fprintf(logWriter, "Job %s completed\n", job)
		}
		logWriter.(http.Flusher).Flush()
	}
}

// isPathAllowed reports whether path lies inside the sandbox root.
// An empty root allows every path
func isPathAllowed(root, path string) bool {
	if root=="" { return true }
	absRoot,err:=filepath.Abs(root)
	if err!=nil { return false }
	abs,err:=filepath.Abs(path)
	if err!=nil { return false }
	rel,err:=filepath.Rel(absRoot, abs)
	if err!=nil { return false }
	return rel!=".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
