package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createCrawlDocsTool defines the crawl_docs tool
func createCrawlDocsTool() mcp.Tool {
	return mcp.NewTool("crawl_docs",
		mcp.WithDescription("Crawl a documentation site starting from a seed URL and return a summary of the finished job. The crawl runs to completion before this tool returns; use get_corpus to retrieve the concatenated Markdown afterwards."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Seed URL to start crawling from (http or https)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Maximum number of pages to fetch (default 50, max 500)"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum link depth from the seed URL (default 2, max 10)"),
		),
		mcp.WithArray("exclude_patterns",
			mcp.Description("Regular expressions; URLs whose path matches any pattern are skipped"),
			mcp.WithStringItems(),
		),
	)
}

// createGetJobStatusTool defines the get_job_status tool
func createGetJobStatusTool() mcp.Tool {
	return mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the current status and page counters of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID returned by crawl_docs"),
		),
	)
}

// createGetCorpusTool defines the get_corpus tool
func createGetCorpusTool() mcp.Tool {
	return mcp.NewTool("get_corpus",
		mcp.WithDescription("Retrieve the concatenated Markdown corpus of a completed crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID of a completed crawl"),
		),
	)
}

// createListJobsTool defines the list_jobs tool
func createListJobsTool() mcp.Tool {
	return mcp.NewTool("list_jobs",
		mcp.WithDescription("List recent crawl jobs, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of jobs to return (default 20)"),
		),
	)
}
