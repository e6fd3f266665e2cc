package tracker

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"batchqa/internal/batchapi"
)

// Match finds the queue item that corresponds to req.
//
// A known ServerJobID is authoritative. Without one (or when the server has
// not listed it yet) items are compared by their ordered file ids and
// prompts, the most recent candidate wins, and items whose ClaimKey is in
// claimed are skipped because another local request already owns them.
//
// Two requests with identical inputs submitted before either has a job id
// remain indistinguishable: whichever claims a candidate first gets it, and
// the other waits for a different item.
func Match(req Request, items []batchapi.QueueItem, claimed map[string]bool) (batchapi.QueueItem, bool) {
	if req.ServerJobID != "" {
		for _, item := range items {
			if item.JobID == req.ServerJobID {
				return item, true
			}
		}
	}

	key := fileKey(req.FileIDs)
	candidates := make([]batchapi.QueueItem, 0, 2)
	for _, item := range items {
		if fileKey(item.FileIDs) != key || !slices.Equal(item.PromptList, req.Prompts) {
			continue
		}
		if claimed[ClaimKey(item)] {
			continue
		}
		// A different server id means a different submission.
		if item.JobID != "" && req.ServerJobID != "" && item.JobID != req.ServerJobID {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return batchapi.QueueItem{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.Timestamp.Equal(b.Timestamp.Time) {
			return a.Timestamp.After(b.Timestamp.Time)
		}
		return a.Sequence > b.Sequence
	})
	return candidates[0], true
}

// ClaimKey identifies a queue item for claiming. It is the job id when the
// server sent one. Id-less items are keyed by their inputs plus timestamp and
// sequence, which never collides with a job id.
func ClaimKey(item batchapi.QueueItem) string {
	if item.JobID != "" {
		return item.JobID
	}
	return fmt.Sprintf("\x00%s\x1f%s\x1f%d\x1f%d",
		fileKey(item.FileIDs), strings.Join(item.PromptList, "\x1f"), item.Timestamp.UnixNano(), item.Sequence)
}

func fileKey(ids []string) string {
	return strings.Join(ids, ",")
}
