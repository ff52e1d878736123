// Package catalog scans the local charts tree.
//
// Every immediate subdirectory of the charts root that contains a chart
// definition directory is a package; its Chart.yaml manifest supplies the
// name, version and type. Library charts are left out of the catalog.
package catalog
