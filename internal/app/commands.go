package app

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bakaf/pixel/internal/backend"
	"github.com/bakaf/pixel/internal/models"
)

func newSignUpCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and its profile, then sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			username, _ := cmd.Flags().GetString("username")

			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				profile, err := f.CreateUser(ctx, models.Credentials{Email: email, Password: password, Username: username})
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), profile)
			})
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().String("username", "", "public username")
	return cmd
}

func newSignInCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in, replacing any current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				s, err := f.SignIn(ctx, email, password)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	return cmd
}

func newSignOutCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				if err := f.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newAccountCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				account, err := f.GetAccount(ctx)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), account)
			})
		},
	}
}

func newWhoAmICommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the profile of the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				profile, ok := f.GetCurrentUser(ctx)
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
					return nil
				}
				return printYAML(cmd.OutOrStdout(), profile)
			})
		},
	}
}

func newPostsCommand(r *runner) *cobra.Command {
	list := func(use, short string, args cobra.PositionalArgs, query func(ctx context.Context, f *backend.Facade, args []string) ([]models.Post, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
					posts, err := query(ctx, f, args)
					if err != nil {
						return err
					}
					return printYAML(cmd.OutOrStdout(), posts)
				})
			},
		}
	}

	cmd := &cobra.Command{
		Use:     "posts",
		Short:   "List posts",
		Aliases: []string{"feed"},
	}
	cmd.AddCommand(
		list("all", "List every post, newest first", cobra.NoArgs,
			func(ctx context.Context, f *backend.Facade, _ []string) ([]models.Post, error) {
				return f.GetAllPosts(ctx)
			}),
		list("latest", "List the newest posts", cobra.NoArgs,
			func(ctx context.Context, f *backend.Facade, _ []string) ([]models.Post, error) {
				return f.GetLatestPosts(ctx)
			}),
		list("search QUERY", "Search posts by title", cobra.ExactArgs(1),
			func(ctx context.Context, f *backend.Facade, args []string) ([]models.Post, error) {
				return f.SearchPosts(ctx, args[0])
			}),
		list("user [USER_ID]", "List posts of a user, the signed-in user by default", cobra.MaximumNArgs(1),
			func(ctx context.Context, f *backend.Facade, args []string) ([]models.Post, error) {
				userID, err := userOrCurrent(ctx, f, args)
				if err != nil {
					return nil, err
				}
				return f.GetUserPosts(ctx, userID)
			}),
	)
	return cmd
}

func userOrCurrent(ctx context.Context, f *backend.Facade, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	profile, ok := f.GetCurrentUser(ctx)
	if !ok {
		return "", errors.New("not signed in; pass a user id")
	}
	return profile.ID, nil
}

func newPostCommand(r *runner) *cobra.Command {
	create := &cobra.Command{
		Use:   "create",
		Short: "Upload a thumbnail and a video and publish them as a post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			prompt, _ := cmd.Flags().GetString("prompt")
			thumbnailPath, _ := cmd.Flags().GetString("thumbnail")
			videoPath, _ := cmd.Flags().GetString("video")

			thumbnail, err := describeFile(thumbnailPath)
			if err != nil {
				return err
			}
			video, err := describeFile(videoPath)
			if err != nil {
				return err
			}

			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				profile, ok := f.GetCurrentUser(ctx)
				if !ok {
					return errors.New("not signed in")
				}
				post, err := f.CreateVideoPost(ctx, models.PostForm{
					Title:     title,
					Thumbnail: thumbnail,
					Video:     video,
					Prompt:    prompt,
					UserID:    profile.ID,
				})
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), post)
			})
		},
	}
	create.Flags().String("title", "", "post title")
	create.Flags().String("prompt", "", "prompt the video was generated from")
	create.Flags().String("thumbnail", "", "path of the thumbnail image")
	create.Flags().String("video", "", "path of the video")

	cmd := &cobra.Command{Use: "post", Short: "Manage posts"}
	cmd.AddCommand(create)
	return cmd
}

func newUploadCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload PATH",
		Short: "Upload a file and print its display URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			file, err := describeFile(args[0])
			if err != nil {
				return err
			}
			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				u, err := f.UploadFile(ctx, file, models.FileType(typ))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	cmd.Flags().String("type", string(models.FileTypeImage), "file type: image or video")
	return cmd
}

func newPreviewCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview FILE_ID",
		Short: "Print the display URL of a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				u, err := f.GetFilePreview(ctx, args[0], models.FileType(typ))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	cmd.Flags().String("type", string(models.FileTypeImage), "file type: image or video")
	return cmd
}

func newProfileCommand(r *runner) *cobra.Command {
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Create the profile of a signed-in account that has none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withFacade(cmd, func(ctx context.Context, f *backend.Facade) error {
				profile, err := f.EnsureUserProfile(ctx)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), profile)
			})
		},
	}

	cmd := &cobra.Command{Use: "profile", Short: "Manage the user profile"}
	cmd.AddCommand(repair)
	return cmd
}

// describeFile returns nil for an empty path so the backend reports the missing file.
func describeFile(path string) (*models.FileDescriptor, error) {
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &models.FileDescriptor{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		URI:      path,
	}, nil
}
