package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/apiscope/internal/docs"
	"github.com/dgnsrekt/apiscope/internal/storage"
	"github.com/dgnsrekt/apiscope/internal/types"
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := svc.Analyze(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Analyzed %d calls into %d endpoints (%d groups skipped) in %dms\n",
		res.CallsAnalyzed, len(res.Endpoints), res.GroupsSkipped, res.DurationMS)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tMETHOD\tPATH\tAPI\tAUTH\tCALLS")
	for _, ep := range res.Endpoints {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", ep.Protocol, ep.Method, ep.Path, ep.APIType, authLabel(ep), ep.CallCount)
	}
	return tw.Flush()
}

func authLabel(ep *types.DiscoveredEndpoint) string {
	switch {
	case !ep.AuthRequired:
		return "-"
	case ep.AuthType != "":
		return ep.AuthType
	}
	return "required"
}

func runDocs(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var doc *types.Documentation
	if docsVersion > 0 {
		doc, err = svc.GetDocs(ctx, args[0], docsVersion)
	} else {
		doc, err = svc.GenerateDocs(ctx, args[0], docs.Options{RetainHistory: cfg.DocsRetainHistory, Describe: docsDescribe})
	}
	if err != nil {
		return err
	}

	if docsOut == "" {
		fmt.Print(doc.Markdown)
		return nil
	}
	written, err := docs.Export(storage.NewArtifactWriter(docsOut), doc)
	if err != nil {
		return err
	}
	fmt.Printf("Documentation v%d for %s:\n", doc.Version, doc.ProxyID)
	for _, path := range written {
		fmt.Println("  " + path)
	}
	return nil
}

func runProxyAdd(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := svc.CreateProxy(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", p.ID, p.DestinationURL)
	fmt.Printf("Browse: %s/proxy/%s/\n", cfg.PublicURL, p.ID)
	return nil
}

func runProxyList(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	proxies, err := svc.ListProxies(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tDESTINATION\tLAST USED")
	for _, p := range proxies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.DestinationURL, lastUsed(p))
	}
	return tw.Flush()
}

func lastUsed(p *types.Proxy) string {
	if p.LastUsedAt == nil {
		return "never"
	}
	return p.LastUsedAt.Local().Format(time.DateTime)
}

func runProxyStatus(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := svc.SetProxyStatus(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", p.ID, p.Status)
	return nil
}

func runProxyRemove(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := svc.DeleteProxy(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
