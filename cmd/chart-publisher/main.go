// Command chart-publisher builds the charts whose tagged version is not
// published yet and merges them into the chart repository index.
package main

import "github.com/oshokin/chart-publisher/cmd/chart-publisher/cmd"

func main() {
	cmd.Execute()
}
