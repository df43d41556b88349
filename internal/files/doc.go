// Package files provides the file operations shared by the session and
// download stages: atomic writes, moves across file systems and discovery of
// previously downloaded exports.
//
// Manager resolves relative paths against a base directory:
//
//	manager := files.NewManager(outDir, logger)
//	if err := manager.MoveFile(staged, "moneyforward_202505.csv"); err != nil {
//	    return err
//	}
//
// Discovery lists export files so offline commands can pick the latest one:
//
//	latest, ok, err := files.NewDiscovery(outDir).LatestExport("")
package files
