// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	pe "github.com/saferwall/pe64"
)

func prettyPrint(v interface{}) string {
	buff, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("marshal error: %v", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buff, "", "\t"); err != nil {
		return string(buff)
	}
	return out.String()
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dumpFile(filename string, flags *cobra.Command) {
	data, err := os.ReadFile(filename)
	if err != nil {
		log.Printf("reading %s: %v", filename, err)
		return
	}

	file, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		log.Printf("opening %s: %v", filename, err)
		return
	}
	defer file.Close()

	if err := file.Parse(); err != nil {
		log.Printf("parsing %s: %v", filename, err)
		return
	}

	want := func(name string) bool {
		v, _ := flags.Flags().GetBool(name)
		return v
	}

	all := want("all")
	if all || want("dos") {
		fmt.Println(prettyPrint(file.DOSHeader))
	}
	if all || want("nt") {
		fmt.Println(prettyPrint(file.NtHeader))
	}
	if all || want("sections") {
		fmt.Println(prettyPrint(file.Sections))
	}
	if all || want("imports") {
		fmt.Println(prettyPrint(file.Imports))
	}
	if all || want("exports") {
		fmt.Println(prettyPrint(file.Export))
	}
	if all || want("relocations") {
		fmt.Println(prettyPrint(file.Relocations))
	}
	if all || want("exceptions") {
		fmt.Println(prettyPrint(file.Exceptions))
	}
	if all || want("tls") {
		fmt.Println(prettyPrint(file.TLS))
	}
	if all || want("debug") {
		fmt.Println(prettyPrint(file.DebugEntries))
	}
}

func runDump(cmd *cobra.Command, args []string) {
	filePath := args[0]

	if !isDirectory(filePath) {
		dumpFile(filePath, cmd)
		return
	}

	filepath.Walk(filePath, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			dumpFile(path, cmd)
		}
		return nil
	})
}

func runPDBURL(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("reading %s: %v", args[0], err)
	}

	file, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		log.Fatalf("opening %s: %v", args[0], err)
	}
	defer file.Close()

	if err := file.Parse(); err != nil {
		log.Fatalf("parsing %s: %v", args[0], err)
	}

	url, ok := file.PDBURL()
	if !ok {
		fmt.Println("no PDB record found")
		return
	}
	fmt.Println(url)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "pedumper",
		Short: "A PE32+ (x64) file parser",
		Long:  "Dumps structured information from a PE32+ (x64) image",
	}

	dumpCmd := &cobra.Command{
		Use:   "dump <file or directory>",
		Short: "Dump parsed structures as JSON",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDump,
	}
	dumpCmd.Flags().Bool("dos", false, "dump the DOS header")
	dumpCmd.Flags().Bool("nt", false, "dump the NT header")
	dumpCmd.Flags().Bool("sections", false, "dump section headers")
	dumpCmd.Flags().Bool("imports", false, "dump the import table")
	dumpCmd.Flags().Bool("exports", false, "dump the export table")
	dumpCmd.Flags().Bool("relocations", false, "dump base relocations")
	dumpCmd.Flags().Bool("exceptions", false, "dump the exception/unwind table")
	dumpCmd.Flags().Bool("tls", false, "dump the TLS directory")
	dumpCmd.Flags().Bool("debug", false, "dump debug directory entries")
	dumpCmd.Flags().Bool("all", false, "dump everything")

	pdbURLCmd := &cobra.Command{
		Use:   "pdburl <file>",
		Short: "Print the Microsoft Symbol Server URL for a file's PDB",
		Args:  cobra.ExactArgs(1),
		Run:   runPDBURL,
	}

	rootCmd.AddCommand(dumpCmd, pdbURLCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
