package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job on the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip confirmation")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, err := requireUser(cfg)
	if err != nil {
		return err
	}
	jobID := args[0]

	if !deleteYes {
		fmt.Printf("Delete job %s? [y/N]: ", jobID)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctrl, closeFn, err := openRemote(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	msg, err := ctrl.DeleteJob(cmd.Context(), userID, jobID)
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(map[string]string{"job_id": jobID, "message": msg})
		return nil
	}
	if msg == "" {
		msg = "deleted"
	}
	fmt.Printf("Job %s: %s\n", jobID, msg)
	return nil
}
