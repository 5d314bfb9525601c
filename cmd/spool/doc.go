// Command spool downloads borrowed OverDrive audiobooks, extracts their
// embedded chapter marks, and assembles the parts into a single chaptered
// m4b file ready for a library import tool.
package main
